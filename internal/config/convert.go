package config

import (
	"errors"
	"fmt"
	"strings"

	"eventharvest/internal/collector"
	"eventharvest/internal/queue"
	"eventharvest/internal/registry"
	logx "eventharvest/pkg/logx"
)

const (
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"
)

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	}
}

func (c QueueConfig) Queue() (queue.Config, error) {
	var (
		out queue.Config
		err error
	)
	out.Workers = c.Workers
	out.MaxPending = c.Health.MaxPending
	out.MaxFailureRatio = c.Health.MaxFailureRatio
	if out.JobTimeout, err = ParseDurationField("queue.job_timeout", c.JobTimeout); err != nil {
		return out, err
	}
	if out.BackoffBase, err = ParseDurationField("queue.backoff_base", c.BackoffBase); err != nil {
		return out, err
	}
	if out.BackoffMax, err = ParseDurationField("queue.backoff_max", c.BackoffMax); err != nil {
		return out, err
	}
	if out.StuckAfter, err = ParseDurationField("queue.health.stuck_after", c.Health.StuckAfter); err != nil {
		return out, err
	}
	if out.MaxAvgWait, err = ParseDurationField("queue.health.max_avg_wait", c.Health.MaxAvgWait); err != nil {
		return out, err
	}
	return out, nil
}

func (c RegistryConfig) Registry() (registry.Config, error) {
	out := registry.Config{
		MaxSources:    c.MaxSources,
		ValidateOnAdd: c.ValidateOnAdd,
		BatchSize:     c.BatchSize,
	}
	var err error
	if out.ProbeTimeout, err = ParseDurationField("registry.probe_timeout", c.ProbeTimeout); err != nil {
		return out, err
	}
	if out.BatchPause, err = ParseDurationField("registry.batch_pause", c.BatchPause); err != nil {
		return out, err
	}
	return out, nil
}

func (c CollectorConfig) Collector() (collector.Config, error) {
	out := collector.Config{
		CollectSchedule:  strings.TrimSpace(c.CollectSchedule),
		ValidateSchedule: strings.TrimSpace(c.ValidateSchedule),
	}
	for path, raw := range map[string]string{
		"collector.collect_schedule":  out.CollectSchedule,
		"collector.validate_schedule": out.ValidateSchedule,
	} {
		if raw == "" {
			continue
		}
		if err := collector.ValidateSchedule(raw); err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
	}
	var err error
	if out.InFlightTTL, err = ParseDurationField("collector.in_flight_ttl", c.InFlightTTL); err != nil {
		return out, err
	}
	return out, nil
}

// Endpoint returns the listen address and path with defaults applied.
func (c MetricsConfig) Endpoint() (addr, path string) {
	addr, path = strings.TrimSpace(c.Addr), strings.TrimSpace(c.Path)
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if path == "" {
		path = DefaultMetricsPath
	}
	return addr, path
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}
	if cfg.Queue.Workers < 0 {
		errs = append(errs, errors.New("queue.workers: must be >= 0"))
	}
	if r := cfg.Queue.Health.MaxFailureRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("queue.health.max_failure_ratio: %v not in [0,1]", r))
	}
	if _, err := cfg.Queue.Queue(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Registry.MaxSources < 0 {
		errs = append(errs, errors.New("registry.max_sources: must be >= 0"))
	}
	if n := cfg.Registry.BatchSize; n < 0 || n > registry.MaxProbeBatch {
		errs = append(errs, fmt.Errorf("registry.batch_size: %d not in [0,%d]", n, registry.MaxProbeBatch))
	}
	if rc, err := cfg.Registry.Registry(); err != nil {
		errs = append(errs, err)
	} else if rc.BatchPause != 0 && rc.BatchPause < registry.MinBatchPause {
		errs = append(errs, fmt.Errorf("registry.batch_pause: %s is below %s", rc.BatchPause, registry.MinBatchPause))
	}
	if _, err := cfg.Collector.Collector(); err != nil {
		errs = append(errs, err)
	}
	if p := strings.TrimSpace(cfg.Metrics.Path); p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("metrics.path: %q must start with /", p))
	}
	return errors.Join(errs...)
}
