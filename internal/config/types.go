package config

// Config is the harvester configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted fields fall back to the defaults of the component they configure.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	Registry  RegistryConfig  `json:"registry"`
	Collector CollectorConfig `json:"collector"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Sources   SourcesConfig   `json:"sources,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile is the rotating JSON log file. Zero sizes use 10 MB per file,
// 3 backups and 30 days of retention.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// QueueConfig controls the job queue.
//
// Defaults (when fields are omitted/zero):
//   - workers: 3
//   - job_timeout: "0s" (disabled)
//   - backoff_base: "1s", backoff_max: "30s"
//
// Workers is fixed at start; changing it requires a restart.
type QueueConfig struct {
	Workers     int    `json:"workers,omitempty"`
	JobTimeout  string `json:"job_timeout,omitempty"`
	BackoffBase string `json:"backoff_base,omitempty"`
	BackoffMax  string `json:"backoff_max,omitempty"`

	Health HealthConfig `json:"health,omitempty"`
}

// HealthConfig holds the queue health thresholds.
//
// Defaults: stuck_after "30m", max_pending 50, max_failure_ratio 0.10,
// max_avg_wait "5m".
type HealthConfig struct {
	StuckAfter      string  `json:"stuck_after,omitempty"`
	MaxPending      int     `json:"max_pending,omitempty"`
	MaxFailureRatio float64 `json:"max_failure_ratio,omitempty"`
	MaxAvgWait      string  `json:"max_avg_wait,omitempty"`
}

// RegistryConfig controls the source registry.
//
// Defaults: max_sources 1000, probe_timeout "10s", batch_size 5,
// batch_pause "1s".
type RegistryConfig struct {
	MaxSources    int    `json:"max_sources,omitempty"`
	ValidateOnAdd bool   `json:"validate_on_add"`
	ProbeTimeout  string `json:"probe_timeout,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	BatchPause    string `json:"batch_pause,omitempty"`
}

// CollectorConfig controls the periodic collection and validation rounds.
//
// Schedules accept cron expressions ("*/15 * * * *", "@daily"), Go durations
// ("15m"), HH:MM intervals ("06:00") or "off".
type CollectorConfig struct {
	CollectSchedule  string `json:"collect_schedule,omitempty"`
	ValidateSchedule string `json:"validate_schedule,omitempty"`
	InFlightTTL      string `json:"in_flight_ttl,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost (the default "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// SourcesConfig points at the catalog interchange files.
//
// Example:
//
//	"sources": { "seed_file": "./sources.json", "export_file": "./sources.json", "export_on_shutdown": true }
type SourcesConfig struct {
	SeedFile         string `json:"seed_file,omitempty"`
	ExportFile       string `json:"export_file,omitempty"`
	ExportOnShutdown bool   `json:"export_on_shutdown,omitempty"`
}
