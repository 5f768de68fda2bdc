package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	gdtest "github.com/teranos/gdscraper/internal/testing"
	"go.uber.org/zap"
)

// ============================================================================
// Kirby Worker Test Universe
// ============================================================================
//
// Kirby inhales jobs from the queue and copies whatever ability the
// registered handler gives him. Cronos shows up whenever timing matters.
// ============================================================================

func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func fastPoolConfig(workers int) WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      workers,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}
}

func waitForStatus(t *testing.T, queue *Queue, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := queue.GetJob(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := queue.GetJob(id)
	t.Fatalf("Job %s never reached %s, last seen %+v", id, want, job)
	return nil
}

func TestKirbyCompletesJobWithOutcome(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(1), createTestLogger())

	var executed atomic.Int32
	pool.Registry().Register(HandlerFunc{HandlerName: "glassdoor.scrape", Fn: func(ctx context.Context, job *Job) error {
		executed.Add(1)
		job.Outcome = "success"
		return nil
	}})

	job, _ := NewJob("glassdoor.scrape", "poyo", nil)
	if err := pool.GetQueue().Enqueue(job); err != nil {
		t.Fatal(err)
	}

	pool.Start()
	defer pool.Stop()

	done := waitForStatus(t, pool.GetQueue(), job.ID, JobStatusCompleted)
	if done.Outcome != "success" {
		t.Errorf("Expected outcome success, got %q", done.Outcome)
	}
	if executed.Load() != 1 {
		t.Errorf("Expected handler to run once, ran %d times", executed.Load())
	}
	if pool.JobsProcessed() != 1 {
		t.Errorf("Expected 1 job processed, got %d", pool.JobsProcessed())
	}
}

func TestKirbyFailsJobOnHandlerError(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(1), createTestLogger())
	pool.Registry().Register(HandlerFunc{HandlerName: "glassdoor.scrape", Fn: func(ctx context.Context, job *Job) error {
		return errors.NewInvalidRequestError("invalid input: email too short")
	}})

	job, _ := NewJob("glassdoor.scrape", "poyo", nil)
	pool.GetQueue().Enqueue(job)

	pool.Start()
	defer pool.Stop()

	failed := waitForStatus(t, pool.GetQueue(), job.ID, JobStatusFailed)
	if failed.Error == "" {
		t.Error("Expected error message on failed job")
	}
}

func TestKirbySurvivesHandlerPanic(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(1), createTestLogger())
	pool.Registry().Register(HandlerFunc{HandlerName: "glassdoor.scrape", Fn: func(ctx context.Context, job *Job) error {
		if job.Source == "bomb" {
			panic("star rod shattered")
		}
		job.Outcome = "success"
		return nil
	}})

	bomb, _ := NewJob("glassdoor.scrape", "bomb", nil)
	after, _ := NewJob("glassdoor.scrape", "after", nil)
	after.CreatedAt = bomb.CreatedAt.Add(time.Millisecond)
	pool.GetQueue().Enqueue(bomb)
	pool.GetQueue().Enqueue(after)

	pool.Start()
	defer pool.Stop()

	failed := waitForStatus(t, pool.GetQueue(), bomb.ID, JobStatusFailed)
	if failed.Error == "" {
		t.Error("Expected panic recorded as job error")
	}
	waitForStatus(t, pool.GetQueue(), after.ID, JobStatusCompleted)
}

func TestUnregisteredHandlerFailsJob(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(1), createTestLogger())

	job, _ := NewJob("linkedin.scrape", "poyo", nil)
	pool.GetQueue().Enqueue(job)

	pool.Start()
	defer pool.Stop()

	waitForStatus(t, pool.GetQueue(), job.ID, JobStatusFailed)
}

func TestStartFailsOrphans(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(0), createTestLogger())

	orphan, _ := NewJob("glassdoor.scrape", "orphan", nil)
	orphan.Start()
	if err := pool.GetQueue().Enqueue(orphan); err != nil {
		t.Fatal(err)
	}

	pool.Start()
	defer pool.Stop()

	got, err := pool.GetQueue().GetJob(orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusFailed || got.Error != OrphanReason {
		t.Errorf("Expected orphan failed with %q, got %+v", OrphanReason, got)
	}
}

func TestCronosRateLimitHoldsJobsQueued(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	cfg := fastPoolConfig(1)
	cfg.MaxJobsPerMinute = 1
	pool := NewWorkerPool(db, cfg, createTestLogger())

	var executed atomic.Int32
	pool.Registry().Register(HandlerFunc{HandlerName: "glassdoor.scrape", Fn: func(ctx context.Context, job *Job) error {
		executed.Add(1)
		job.Outcome = "success"
		return nil
	}})

	first, _ := NewJob("glassdoor.scrape", "first", nil)
	second, _ := NewJob("glassdoor.scrape", "second", nil)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	pool.GetQueue().Enqueue(first)
	pool.GetQueue().Enqueue(second)

	pool.Start()

	waitForStatus(t, pool.GetQueue(), first.ID, JobStatusCompleted)
	time.Sleep(100 * time.Millisecond)

	got, _ := pool.GetQueue().GetJob(second.ID)
	if got.Status != JobStatusQueued {
		t.Errorf("Cronos expected second job held in queue, got %s", got.Status)
	}
	if executed.Load() != 1 {
		t.Errorf("Expected one execution within the minute, got %d", executed.Load())
	}

	// Lifting the limit lets the held job through
	pool.SetRateLimit(0)
	waitForStatus(t, pool.GetQueue(), second.ID, JobStatusCompleted)
	pool.Stop()
}

func TestStopCancelsRunningHandler(t *testing.T) {
	db := gdtest.CreateTestDB(t)
	pool := NewWorkerPool(db, fastPoolConfig(1), createTestLogger())

	started := make(chan struct{})
	pool.Registry().Register(HandlerFunc{HandlerName: "glassdoor.scrape", Fn: func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		// The scrape handler still publishes on shutdown and reports it as an outcome
		job.Outcome = "JOB_TIMEOUT"
		return nil
	}})

	job, _ := NewJob("glassdoor.scrape", "slow", nil)
	pool.GetQueue().Enqueue(job)
	pool.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("Handler never started")
	}

	begin := time.Now()
	pool.Stop()
	if time.Since(begin) > time.Second {
		t.Errorf("Stop took too long: %v", time.Since(begin))
	}

	got, _ := pool.GetQueue().GetJob(job.ID)
	if got.Status != JobStatusCompleted || got.Outcome != "JOB_TIMEOUT" {
		t.Errorf("Expected completed with JOB_TIMEOUT outcome, got %+v", got)
	}
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := PoolConfigFrom(am.PulseConfig{Workers: 3, PollIntervalMS: 250, MaxJobsPerMinute: 12, MemoryPerWorkerGB: 2})
	if cfg.Workers != 3 || cfg.PollInterval != 250*time.Millisecond || cfg.MaxJobsPerMinute != 12 || cfg.MemoryPerWorkerGB != 2 {
		t.Errorf("Unexpected pool config: %+v", cfg)
	}

	cfg = PoolConfigFrom(am.PulseConfig{})
	if cfg.PollInterval != time.Second || cfg.MemoryPerWorkerGB != 1.0 || cfg.MaxJobsPerMinute != 0 {
		t.Errorf("Expected defaults for zero values, got %+v", cfg)
	}
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		available, perWorker float64
		want                 int
	}{
		{0.5, 1, 1},
		{3, 1, 2},
		{9, 2, 4},
		{100, 1, 16},
		{4, 0, 3},
	}
	for _, tt := range tests {
		if got := calculateSafeWorkerCount(tt.available, tt.perWorker); got != tt.want {
			t.Errorf("calculateSafeWorkerCount(%v, %v) = %d, want %d", tt.available, tt.perWorker, got, tt.want)
		}
	}
}

func TestSystemMetricsAndMemoryPressure(t *testing.T) {
	orig := memoryStats
	defer func() { memoryStats = orig }()
	memoryStats = func() (uint64, uint64, error) {
		return 8 * bytesPerGB, 2 * bytesPerGB, nil
	}

	db := gdtest.CreateTestDB(t)
	cfg := fastPoolConfig(4)
	cfg.MaxJobsPerMinute = 6
	pool := NewWorkerPool(db, cfg, createTestLogger())

	job, _ := NewJob("glassdoor.scrape", "metrics", nil)
	pool.GetQueue().Enqueue(job)

	m := pool.GetSystemMetrics()
	if m.WorkersTotal != 4 || m.JobsQueued != 1 || m.MaxJobsPerMinute != 6 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
	if m.MemoryTotalGB != 8 || m.MemoryUsedGB != 6 || m.MemoryPercent != 75 {
		t.Errorf("Unexpected memory metrics: %+v", m)
	}

	// 2GB available, 1GB buffer, 1GB per worker: one browser fits
	if warning := pool.checkMemoryPressure(); warning == "" {
		t.Error("Expected memory pressure warning for 4 workers")
	}

	memoryStats = func() (uint64, uint64, error) { return 0, 0, errors.New("no /proc") }
	if warning := pool.checkMemoryPressure(); warning != "" {
		t.Errorf("Expected no warning when memory is unreadable, got %q", warning)
	}
}
