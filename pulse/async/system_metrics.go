package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/teranos/gdscraper/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive    int     `json:"workers_active"`
	WorkersTotal     int     `json:"workers_total"`
	MemoryUsedGB     float64 `json:"memory_used_gb"`
	MemoryTotalGB    float64 `json:"memory_total_gb"`
	MemoryPercent    float64 `json:"memory_percent"`
	JobsQueued       int     `json:"jobs_queued"`
	JobsRunning      int     `json:"jobs_running"`
	JobsProcessed    int     `json:"jobs_processed"`
	MaxJobsPerMinute int     `json:"max_jobs_per_minute"`
}

// memoryStats is swapped in tests
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// memoryBufferGB is left for the OS and the service itself
const memoryBufferGB = 1.0

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Every worker drives its own Chrome.
func calculateSafeWorkerCount(availableGB float64, perWorkerGB float64) int {
	if perWorkerGB <= 0 {
		perWorkerGB = DefaultWorkerPoolConfig().MemoryPerWorkerGB
	}
	if availableGB < memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / perWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	var memUsedGB, memTotalGB, memPercent float64
	if total, available, err := memoryStats(); err == nil && total > 0 {
		memTotalGB = float64(total) / bytesPerGB
		memUsedGB = float64(total-available) / bytesPerGB
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	queued, running, err := wp.queue.GetJobCounts()
	if err != nil {
		queued, running = 0, 0
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive:    wp.activeWorkers,
		WorkersTotal:     wp.workers,
		MemoryUsedGB:     memUsedGB,
		MemoryTotalGB:    memTotalGB,
		MemoryPercent:    memPercent,
		JobsQueued:       queued,
		JobsRunning:      running,
		JobsProcessed:    wp.jobsProcessed,
		MaxJobsPerMinute: wp.poolConfig.MaxJobsPerMinute,
	}
}

// checkMemoryPressure returns a warning when the worker count looks too high
// for the available memory, or "" when it fits or memory cannot be read.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := memoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / bytesPerGB
	totalGB := float64(total) / bytesPerGB
	recommended := calculateSafeWorkerCount(availableGB, wp.poolConfig.MemoryPerWorkerGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Each worker runs a browser; consider reducing workers.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
