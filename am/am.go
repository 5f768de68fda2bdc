// Package am holds gdscraper's configuration: typed structs, defaults,
// layered TOML/env loading, validation, persistence and hot reload.
package am

import "time"

// Config represents the complete gdscraper configuration
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper" toml:"scraper"`
	Bus      BusConfig      `mapstructure:"bus" toml:"bus"`
	Browser  BrowserConfig  `mapstructure:"browser" toml:"browser"`
	Storage  StorageConfig  `mapstructure:"storage" toml:"storage"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// ScraperConfig configures job identity and the job-wide deadline
type ScraperConfig struct {
	AppID        string `mapstructure:"app_id" toml:"app_id"`                 // Also the bus consumer group
	JobTimeoutMS int    `mapstructure:"job_timeout_ms" toml:"job_timeout_ms"` // START to terminal state
	HandlerName  string `mapstructure:"handler_name" toml:"handler_name"`     // Pulse handler that runs scrape jobs
}

// JobTimeout returns the job-wide deadline as a duration
func (c ScraperConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMS) * time.Millisecond
}

// BusConfig configures the topic log that replaces the message broker
type BusConfig struct {
	InputTopic         string `mapstructure:"input_topic" toml:"input_topic"`
	OutputSuccessTopic string `mapstructure:"output_success_topic" toml:"output_success_topic"`
	OutputFailureTopic string `mapstructure:"output_failure_topic" toml:"output_failure_topic"`
	PollIntervalMS     int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`
	RetentionHours     int    `mapstructure:"retention_hours" toml:"retention_hours"` // 0 = keep forever
}

// PollInterval returns how often the intake polls the input topic
func (c BusConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// BrowserConfig configures the headless Chrome step executors
type BrowserConfig struct {
	Headless      bool   `mapstructure:"headless" toml:"headless"`
	ExecPath      string `mapstructure:"exec_path" toml:"exec_path"`   // Empty = let chromedp find Chrome
	UserAgent     string `mapstructure:"user_agent" toml:"user_agent"` // Empty = Chrome default
	Locale        string `mapstructure:"locale" toml:"locale"`
	Timezone      string `mapstructure:"timezone" toml:"timezone"`
	StepTimeoutMS int    `mapstructure:"step_timeout_ms" toml:"step_timeout_ms"` // Per page interaction
	ExtraFlags    string `mapstructure:"extra_flags" toml:"extra_flags"`         // Shell-quoted, e.g. "--proxy-server=http://p:3128"
	DownloadDir   string `mapstructure:"download_dir" toml:"download_dir"`       // Empty = OS temp dir
	BaseURL       string `mapstructure:"base_url" toml:"base_url"`
	SelectorsFile string `mapstructure:"selectors_file" toml:"selectors_file"` // Optional override of the embedded selectors
}

// StepTimeout returns the bound for a single browser interaction
func (c BrowserConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMS) * time.Millisecond
}

// Storage backends
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageS3     = "s3"
	StorageNoop   = "noop"
)

// StorageConfig selects where retrieved resumes are stored
type StorageConfig struct {
	Backend     string          `mapstructure:"backend" toml:"backend"`
	Concurrency int             `mapstructure:"concurrency" toml:"concurrency"` // Parallel StoreOne calls per job
	File        FileStoreConfig `mapstructure:"file" toml:"file"`
	S3          S3Config        `mapstructure:"s3" toml:"s3"`
}

// FileStoreConfig configures the filesystem backend
type FileStoreConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
}

// S3Config configures the S3 backend
type S3Config struct {
	Bucket        string `mapstructure:"bucket" toml:"bucket"`
	Region        string `mapstructure:"region" toml:"region"`
	Prefix        string `mapstructure:"prefix" toml:"prefix"`
	Endpoint      string `mapstructure:"endpoint" toml:"endpoint"` // S3-compatible services (MinIO, R2)
	UsePathStyle  bool   `mapstructure:"use_path_style" toml:"use_path_style"`
	PublicBaseURL string `mapstructure:"public_base_url" toml:"public_base_url"` // Empty = s3://bucket/key URLs

	// Static credentials; empty means the default AWS credential chain
	AccessKeyID     string `mapstructure:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" toml:"secret_access_key"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// PulseConfig configures the job queue worker pool
type PulseConfig struct {
	Workers           int     `mapstructure:"workers" toml:"workers"` // 0 = intake only, nothing executes
	PollIntervalMS    int     `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`
	MaxJobsPerMinute  int     `mapstructure:"max_jobs_per_minute" toml:"max_jobs_per_minute"` // 0 = unlimited
	MemoryPerWorkerGB float64 `mapstructure:"memory_per_worker_gb" toml:"memory_per_worker_gb"`
}

// PollInterval returns how often idle workers check the queue
func (c PulseConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ServerConfig configures the HTTP status surface
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
	Port    int  `mapstructure:"port" toml:"port"`
}

// DefaultServerPort is the status server port when none is configured
const DefaultServerPort = 8787

// LogConfig configures logging output
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"` // debug, info, warn, error
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
