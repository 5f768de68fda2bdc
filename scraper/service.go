// Package scraper wires the scrape pipeline into a running service: inbound
// messages are consumed from the bus into the durable job queue, workers run
// one state machine per job and the outcome is published back to the bus.
package scraper

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/browser"
	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/pulse/async"
	"github.com/teranos/gdscraper/scrape"
	"github.com/teranos/gdscraper/storage"
	"go.uber.org/zap"
)

// cleanupInterval is how often retention is applied to the bus and job table
const cleanupInterval = time.Hour

// Option customizes a Service
type Option func(*options)

type options struct {
	steps     scrape.Steps
	stopAfter time.Duration
}

// WithSteps replaces the browser and storage step executors
func WithSteps(steps scrape.Steps) Option {
	return func(o *options) { o.steps = steps }
}

// WithStopTimeout bounds how long Stop waits for running jobs
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopAfter = d }
}

// Service runs intake, workers and retention cleanup for one configuration
type Service struct {
	cfg    *am.Config
	bus    *bus.Bus
	pool   *async.WorkerPool
	runner *scrape.Runner
	intake *Intake
	topics message.Topics
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New assembles a service on an already migrated database
func New(ctx context.Context, cfg *am.Config, db *sql.DB, log *zap.SugaredLogger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	steps := o.steps
	if steps == nil {
		var err error
		if steps, err = browserSteps(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	b := bus.New(db, log)
	topics := message.Topics{Success: cfg.Bus.OutputSuccessTopic, Failure: cfg.Bus.OutputFailureTopic}
	publisher := message.NewBusPublisher(b.Producer(), topics, log.Named("publisher"))

	machine := scrape.NewMachine(steps, scrape.WithLogger(log.Named("fsm")))
	runner := scrape.NewRunner(machine, publisher, scrape.RunnerConfig{JobTimeout: cfg.Scraper.JobTimeout()}, log.Named("runner"))

	poolCfg := async.PoolConfigFrom(cfg.Pulse)
	if o.stopAfter > 0 {
		poolCfg.StopTimeout = o.stopAfter
	}
	pool := async.NewWorkerPool(db, poolCfg, log)
	pool.Registry().Register(NewHandler(runner, cfg.Scraper.HandlerName, log.Named("job")))

	intake := NewIntake(b, pool.GetQueue(), IntakeConfig{
		Group:        cfg.Scraper.AppID,
		Topic:        cfg.Bus.InputTopic,
		PollInterval: cfg.Bus.PollInterval(),
		HandlerName:  cfg.Scraper.HandlerName,
	}, log.Named("intake"))

	return &Service{
		cfg:    cfg,
		bus:    b,
		pool:   pool,
		runner: runner,
		intake: intake,
		topics: topics,
		logger: log,
	}, nil
}

// browserSteps builds the chromedp executors with the configured resume store
func browserSteps(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (scrape.Steps, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resume store")
	}
	selectors, err := browser.LoadSelectors(cfg.Browser.SelectorsFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load selectors")
	}
	launcher, err := browser.NewLauncher(cfg.Browser, selectors, log.Named("browser"))
	if err != nil {
		return nil, err
	}
	log.Infow("Resume storage configured", "backend", cfg.Storage.Backend)
	return launcher.Steps(storage.StepFunc(store, cfg.Storage.Concurrency)), nil
}

// Start runs the workers, the intake and retention cleanup until Stop or ctx is done
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("service already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pool.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.intake.Run(runCtx); err != nil {
			s.logger.Errorw("Intake stopped", logger.FieldError, err)
		}
	}()

	if hours := s.cfg.Bus.RetentionHours; hours > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupLoop(runCtx, time.Duration(hours)*time.Hour)
		}()
	}

	s.logger.Infow("Scraper started",
		"app_id", s.cfg.Scraper.AppID,
		"input_topic", s.cfg.Bus.InputTopic,
		"workers", s.pool.Workers())
	return nil
}

// Stop halts the intake first, then the workers. Jobs still running are
// cancelled and publish JOB_TIMEOUT.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.pool.Stop()
	s.logger.Infow("Scraper stopped")
}

func (s *Service) cleanupLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		s.cleanup(ctx, retention)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) cleanup(ctx context.Context, retention time.Duration) {
	if _, err := s.bus.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
		s.logger.Warnw("Failed to clean up bus", logger.FieldError, err)
	}
	if n, err := s.pool.GetQueue().Cleanup(retention); err != nil {
		s.logger.Warnw("Failed to clean up jobs", logger.FieldError, err)
	} else if n > 0 {
		s.logger.Infow("Cleaned up old jobs", logger.FieldCount, n)
	}
}

// ApplyConfig takes over the settings that can change without a restart:
// log level, jobs per minute and job timeout. Everything else needs a restart.
func (s *Service) ApplyConfig(cfg *am.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	s.pool.SetRateLimit(cfg.Pulse.MaxJobsPerMinute)
	s.runner.SetJobTimeout(cfg.Scraper.JobTimeout())

	s.logger.Infow("Configuration reloaded",
		"log_level", cfg.Log.Level,
		"max_jobs_per_minute", cfg.Pulse.MaxJobsPerMinute,
		"job_timeout_ms", cfg.Scraper.JobTimeoutMS)
	return nil
}

// Bus returns the topic log the service reads and publishes on
func (s *Service) Bus() *bus.Bus {
	return s.bus
}

// Pool returns the worker pool running scrape jobs
func (s *Service) Pool() *async.WorkerPool {
	return s.pool
}

// Runner returns the job runner
func (s *Service) Runner() *scrape.Runner {
	return s.runner
}

// Topics returns the result topics outcomes are published to
func (s *Service) Topics() message.Topics {
	return s.topics
}
