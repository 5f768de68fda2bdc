package scrape

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"go.uber.org/zap"
)

const (
	// DefaultJobTimeout bounds a job from start to terminal outcome
	DefaultJobTimeout = 60 * time.Second

	// publishTimeout and releaseTimeout apply even when the job context is gone
	publishTimeout = 10 * time.Second
	releaseTimeout = 30 * time.Second
)

// Outcome is the terminal result of one job, success or failure
type Outcome struct {
	Key        string
	Success    bool
	UserData   *UserData
	ResumeURLs []string
	Reason     FailureReason
	Elapsed    time.Duration
}

// Publisher delivers exactly one outcome per job
type Publisher interface {
	Publish(ctx context.Context, key string, out Outcome) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, key string, out Outcome) error

func (f PublisherFunc) Publish(ctx context.Context, key string, out Outcome) error {
	return f(ctx, key, out)
}

// RunnerConfig holds the runner settings
type RunnerConfig struct {
	JobTimeout time.Duration
}

// Runner runs one machine per job under a deadline, publishes the outcome and
// releases the browser.
type Runner struct {
	machine   *Machine
	publisher Publisher
	timeout   atomic.Int64
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewRunner creates a runner. A zero JobTimeout falls back to DefaultJobTimeout.
func NewRunner(machine *Machine, publisher Publisher, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Runner{
		machine:   machine,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
	r.timeout.Store(int64(cfg.JobTimeout))
	return r
}

// SetJobTimeout changes the deadline applied to jobs started afterwards
func (r *Runner) SetJobTimeout(d time.Duration) {
	if d > 0 {
		r.timeout.Store(int64(d))
	}
}

// JobTimeout returns the deadline currently applied to new jobs
func (r *Runner) JobTimeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

// Run executes one job identified by key. It always publishes exactly one
// outcome, even when ctx is cancelled, and returns the publish error if any.
func (r *Runner) Run(ctx context.Context, key string, auth Auth) (Outcome, error) {
	ctx = logger.WithCorrelationKey(ctx, key)
	log := logger.LoggerFromContext(ctx, r.logger)
	start := r.now()

	runCtx, cancel := context.WithTimeout(ctx, r.JobTimeout())
	defer cancel()

	done := make(chan *JobContext, 1)
	go func() {
		jc := r.machine.Run(runCtx, auth)
		if jc.Browser != nil {
			jc.Browser = ReleaseOnce(jc.Browser)
		}
		done <- jc
	}()

	log.Debugw("Job started", "timeout", r.JobTimeout())

	var jc *JobContext
	select {
	case jc = <-done:
	case <-runCtx.Done():
		// A machine finishing right at the deadline still counts
		select {
		case jc = <-done:
		default:
		}
	}

	out := r.outcome(key, jc)
	out.Elapsed = r.now().Sub(start)

	if jc == nil || !jc.Kind.IsTerminal() {
		log.Warnw("Job timed out",
			logger.FieldReason, string(out.Reason),
			logger.FieldDurationMS, out.Elapsed.Milliseconds())
	}

	err := r.publish(ctx, key, out)

	if jc != nil {
		r.release(ctx, log, jc)
	} else {
		// The machine is still running; release its browser once it returns
		go func() {
			r.release(ctx, log, <-done)
		}()
	}

	if out.Success {
		log.Infow("Job finished",
			logger.FieldOutcome, "success",
			logger.FieldResumes, len(out.ResumeURLs),
			logger.FieldDurationMS, out.Elapsed.Milliseconds())
	} else {
		log.Infow("Job finished",
			logger.FieldOutcome, "failure",
			logger.FieldReason, string(out.Reason),
			logger.FieldDurationMS, out.Elapsed.Milliseconds())
	}

	return out, err
}

// outcome maps a job context to its outcome; a missing or non-terminal context is a timeout
func (r *Runner) outcome(key string, jc *JobContext) Outcome {
	out := Outcome{Key: key}
	switch {
	case jc == nil || !jc.Kind.IsTerminal():
		out.Reason = ReasonJobTimeout
	case jc.Kind == StateSuccess:
		out.Success = true
		out.UserData = jc.UserData
		out.ResumeURLs = jc.ResumeURLs
		if out.ResumeURLs == nil {
			out.ResumeURLs = []string{}
		}
	default:
		out.Reason = jc.FailureReason
	}
	return out
}

func (r *Runner) publish(ctx context.Context, key string, out Outcome) error {
	if r.publisher == nil {
		return errors.New("no publisher configured")
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, key, out); err != nil {
		return errors.Wrapf(err, "publish outcome for %s", key)
	}
	return nil
}

func (r *Runner) release(ctx context.Context, log *zap.SugaredLogger, jc *JobContext) {
	if jc == nil || jc.Browser == nil {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := jc.Browser.Release(relCtx); err != nil {
		log.Warnw("Failed to release browser", logger.FieldError, err)
	}
}

// NewCorrelationKey returns a fresh URL-safe key for an outbound message
func NewCorrelationKey() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
