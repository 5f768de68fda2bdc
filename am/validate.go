package am

import (
	"github.com/teranos/gdscraper/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Scraper.AppID == "" {
		return errors.New("scraper.app_id cannot be empty (it is also the bus consumer group)")
	}
	if c.Scraper.JobTimeoutMS <= 0 {
		return errors.Newf("scraper.job_timeout_ms must be > 0, got %d", c.Scraper.JobTimeoutMS)
	}
	if c.Scraper.HandlerName == "" {
		return errors.New("scraper.handler_name cannot be empty")
	}

	for key, topic := range map[string]string{
		"bus.input_topic":          c.Bus.InputTopic,
		"bus.output_success_topic": c.Bus.OutputSuccessTopic,
		"bus.output_failure_topic": c.Bus.OutputFailureTopic,
	} {
		if topic == "" {
			return errors.Newf("%s cannot be empty", key)
		}
	}
	if c.Bus.OutputSuccessTopic == c.Bus.OutputFailureTopic {
		err := errors.Newf("bus.output_success_topic and bus.output_failure_topic must differ, both are %q", c.Bus.OutputSuccessTopic)
		return errors.WithHint(err, "consumers tell outcomes apart by topic")
	}
	if c.Bus.PollIntervalMS <= 0 {
		return errors.Newf("bus.poll_interval_ms must be > 0, got %d", c.Bus.PollIntervalMS)
	}
	// Retention: 0 = keep forever, negative = invalid
	if c.Bus.RetentionHours < 0 {
		return errors.Newf("bus.retention_hours must be >= 0, got %d", c.Bus.RetentionHours)
	}

	if c.Browser.StepTimeoutMS <= 0 {
		return errors.Newf("browser.step_timeout_ms must be > 0, got %d", c.Browser.StepTimeoutMS)
	}
	if c.Browser.BaseURL == "" {
		return errors.New("browser.base_url cannot be empty")
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageNoop:
	case StorageFile:
		if c.Storage.File.Dir == "" {
			return errors.New("storage.file.dir cannot be empty when storage.backend is \"file\"")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket cannot be empty when storage.backend is \"s3\"")
		}
	default:
		return errors.Newf("storage.backend must be one of memory, file, s3, noop; got %q", c.Storage.Backend)
	}
	if c.Storage.Concurrency <= 0 {
		return errors.Newf("storage.concurrency must be > 0, got %d", c.Storage.Concurrency)
	}

	// Pulse workers: 0 = intake only, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.MaxJobsPerMinute < 0 {
		return errors.Newf("pulse.max_jobs_per_minute must be >= 0, got %d", c.Pulse.MaxJobsPerMinute)
	}
	if c.Pulse.MemoryPerWorkerGB < 0 {
		return errors.Newf("pulse.memory_per_worker_gb must be >= 0, got %f", c.Pulse.MemoryPerWorkerGB)
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}
