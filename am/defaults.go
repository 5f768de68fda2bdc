package am

import (
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatic environment override
const EnvPrefix = "GDSCRAPER"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scraper.app_id", "gdscraper")
	v.SetDefault("scraper.job_timeout_ms", 60000)
	v.SetDefault("scraper.handler_name", "glassdoor.scrape")

	v.SetDefault("bus.input_topic", "input-glassdoor")
	v.SetDefault("bus.output_success_topic", "output-success-glassdoor")
	v.SetDefault("bus.output_failure_topic", "output-failure-glassdoor")
	v.SetDefault("bus.poll_interval_ms", 500)
	v.SetDefault("bus.retention_hours", 168) // One week of published outcomes

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "Europe/Berlin")
	v.SetDefault("browser.step_timeout_ms", 10000)
	v.SetDefault("browser.extra_flags", "")
	v.SetDefault("browser.download_dir", "")
	v.SetDefault("browser.base_url", "https://www.glassdoor.com")
	v.SetDefault("browser.selectors_file", "")

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.concurrency", 4)
	v.SetDefault("storage.file.dir", "resumes")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "eu-central-1")
	v.SetDefault("storage.s3.prefix", "resumes/")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("storage.s3.public_base_url", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")

	v.SetDefault("database.path", "gdscraper.db")

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.max_jobs_per_minute", 6) // Polite toward the site; one login every 10s
	v.SetDefault("pulse.memory_per_worker_gb", 1.0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", DefaultServerPort)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// legacyEnvVars maps the environment variable names used by earlier
// deployments onto config keys. The prefixed name wins when both are set.
var legacyEnvVars = map[string]string{
	"scraper.app_id":           "APP_ID",
	"scraper.job_timeout_ms":   "FSM_JOB_TIMEOUT_MS",
	"bus.input_topic":          "KAFKA_INPUT_TOPIC",
	"bus.output_success_topic": "KAFKA_OUTPUT_SUCCESS_TOPIC",
	"bus.output_failure_topic": "KAFKA_OUTPUT_FAILURE_TOPIC",
}

// BindEnvVars binds the legacy names alongside the GDSCRAPER_ ones, plus
// credentials that should never live in a config file.
func BindEnvVars(v *viper.Viper) {
	for key, legacy := range legacyEnvVars {
		v.BindEnv(key, envKey(key), legacy)
	}

	v.BindEnv("storage.s3.bucket", envKey("storage.s3.bucket"), "S3_BUCKET")
	v.BindEnv("storage.s3.region", envKey("storage.s3.region"), "AWS_REGION")
	v.BindEnv("storage.s3.access_key_id", envKey("storage.s3.access_key_id"), "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", envKey("storage.s3.secret_access_key"), "AWS_SECRET_ACCESS_KEY")
}

// DefaultConfig returns the configuration produced by SetDefaults alone
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode; a failure here is a programming error
		panic(err)
	}
	return cfg
}
