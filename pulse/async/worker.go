package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OrphanReason is recorded on jobs found running at startup
const OrphanReason = "interrupted by restart"

const defaultStopTimeout = 30 * time.Second

// pulseLogger marks opening and closing operations so they stand out in the console
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow("꩜ "+msg, keysAndValues...)
}

// JobExecutor runs a dequeued job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`
	PollInterval      time.Duration `json:"poll_interval"`
	MaxJobsPerMinute  int           `json:"max_jobs_per_minute"` // 0 = unlimited
	MemoryPerWorkerGB float64       `json:"memory_per_worker_gb"`
	StopTimeout       time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           1,
		PollInterval:      time.Second,
		MaxJobsPerMinute:  6,
		MemoryPerWorkerGB: 1.0,
		StopTimeout:       defaultStopTimeout,
	}
}

// PoolConfigFrom maps the pulse section of the config file
func PoolConfigFrom(cfg am.PulseConfig) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Workers
	if d := cfg.PollInterval(); d > 0 {
		poolCfg.PollInterval = d
	}
	poolCfg.MaxJobsPerMinute = cfg.MaxJobsPerMinute
	if cfg.MemoryPerWorkerGB > 0 {
		poolCfg.MemoryPerWorkerGB = cfg.MemoryPerWorkerGB
	}
	return poolCfg
}

// WorkerPool runs queued jobs on a fixed number of workers
type WorkerPool struct {
	queue         *Queue
	registry      *HandlerRegistry
	executor      JobExecutor
	limiter       *rate.Limiter
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	jobsProcessed int
	activeWorkers int
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Register handlers before calling Start.
func NewWorkerPool(db *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), db, poolCfg, log)
}

// NewWorkerPoolWithContext creates a worker pool whose workers stop when ctx is done
func NewWorkerPoolWithContext(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = defaultStopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	registry := NewHandlerRegistry()

	return &WorkerPool{
		queue:      NewQueue(db),
		registry:   registry,
		executor:   registry,
		limiter:    rate.NewLimiter(limitFor(poolCfg.MaxJobsPerMinute), 1),
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

func limitFor(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(perMinute))
}

// SetRateLimit changes how many jobs may start per minute. 0 removes the limit.
func (wp *WorkerPool) SetRateLimit(perMinute int) {
	wp.limiter.SetLimit(limitFor(perMinute))
	wp.mu.Lock()
	wp.poolConfig.MaxJobsPerMinute = perMinute
	wp.mu.Unlock()
	wp.logger.Pulse("Rate limit updated", "max_jobs_per_minute", perMinute)
}

// Start fails orphaned jobs and starts the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	// Browser state does not survive a restart, so orphans are failed rather than re-run
	if n, err := wp.queue.FailOrphans(OrphanReason); err != nil {
		wp.logger.Warnw("Failed to fail orphaned jobs", logger.FieldError, err)
	} else if n > 0 {
		wp.logger.Starting("Failed jobs orphaned by previous process", logger.FieldCount, n)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Starting("Worker pool started", "workers", wp.workers)
}

// Stop cancels the workers and waits up to StopTimeout for running jobs to finish
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Pulse("Worker pool stopped")
	case <-time.After(wp.poolConfig.StopTimeout):
		wp.logger.Closing("Worker pool stop timed out, jobs may still be publishing", "timeout", wp.poolConfig.StopTimeout)
	}
}

func (wp *WorkerPool) workerCtx() context.Context {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.ctx
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	ctx := wp.workerCtx()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain everything available before waiting for the next tick
		for {
			ran, err := wp.processNextJob(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
					return
				}
				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					logger.FieldError, err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoffDuration):
					}
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
				break
			}

			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					"worker_id", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second

			if !ran || ctx.Err() != nil {
				break
			}
		}
	}
}

// processNextJob runs at most one job and reports whether it did
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	// Leave jobs queued while the rate limit is exhausted
	if wp.limiter.Limit() != rate.Inf && wp.limiter.Tokens() < 1 {
		return false, nil
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	// Another worker may have taken the token since the check above
	if err := wp.limiter.Wait(ctx); err != nil {
		job.Status = JobStatusQueued
		job.StartedAt = nil
		job.UpdatedAt = time.Now().UTC()
		if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
			wp.logger.Errorw("Failed to re-queue job", logger.FieldJobID, job.ID, logger.FieldError, updateErr)
		}
		return false, nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	jobCtx := logger.WithJobID(ctx, job.ID)
	log := logger.LoggerFromContext(jobCtx, wp.logger.SugaredLogger)
	log.Debugw("Job started", "handler", job.HandlerName, "source", job.Source)

	if err := wp.execute(jobCtx, job); err != nil {
		classified := ClassifyError(err)
		log.Warnw("Job failed", "error_code", classified.Code, logger.FieldError, err)
		// A started job is never re-queued: its handler may already have published
		return true, wp.queue.FailJob(job.ID, err)
	}

	if err := wp.queue.CompleteJob(job.ID, job.Outcome); err != nil {
		return true, err
	}
	log.Debugw("Job completed", logger.FieldOutcome, job.Outcome)
	return true, nil
}

// execute runs the job and turns a handler panic into a job failure
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler %s panicked: %v", job.HandlerName, r)
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// JobsProcessed returns how many jobs this pool started since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}

// Registry returns the handler registry. Register handlers before Start:
//
//	pool := async.NewWorkerPool(db, poolCfg, logger)
//	pool.Registry().Register(scraper.NewHandler(runner, cfg.Scraper.HandlerName, logger))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
