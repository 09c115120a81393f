package config

import (
	"sort"
	"strings"

	logx "eventharvest/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus
// structured attrs describing their new values, for the reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.workers", newCfg.Queue.Workers),
			logx.String("queue.backoff_base", strings.TrimSpace(newCfg.Queue.BackoffBase)),
			logx.Bool("queue.restart_required", oldCfg.Queue.Workers != newCfg.Queue.Workers),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.Int("registry.max_sources", newCfg.Registry.MaxSources),
			logx.Bool("registry.validate_on_add", newCfg.Registry.ValidateOnAdd),
		)
	}

	if oldCfg.Collector != newCfg.Collector {
		changed = append(changed, "collector")
		attrs = append(attrs,
			logx.String("collector.collect_schedule", strings.TrimSpace(newCfg.Collector.CollectSchedule)),
			logx.String("collector.validate_schedule", strings.TrimSpace(newCfg.Collector.ValidateSchedule)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		addr, path := newCfg.Metrics.Endpoint()
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", addr),
			logx.String("metrics.path", path),
		)
	}

	if oldCfg.Sources != newCfg.Sources {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Bool("sources.seed_set", strings.TrimSpace(newCfg.Sources.SeedFile) != ""),
			logx.Bool("sources.export_on_shutdown", newCfg.Sources.ExportOnShutdown),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
