// Package app assembles the harvester process: configuration, logging, the
// source registry, the job queue, the collector and the metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"eventharvest/internal/collector"
	"eventharvest/internal/config"
	"eventharvest/internal/eventbus"
	"eventharvest/internal/fetch"
	"eventharvest/internal/observability/metrics"
	"eventharvest/internal/observe"
	"eventharvest/internal/queue"
	"eventharvest/internal/registry"
	"eventharvest/internal/runtime/supervisor"
	logx "eventharvest/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	reg     *registry.Registry
	queue   *queue.Queue
	col     *collector.Collector
	metrics *metrics.Service
}

// Option customises construction, mostly for tests.
type Option func(*options)

type options struct {
	fetcher fetch.Fetcher
}

// WithFetcher replaces the HTTP fetcher used by collection jobs.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	qcfg, err := cfg.Queue.Queue()
	if err != nil {
		return nil, err
	}
	rcfg, err := cfg.Registry.Registry()
	if err != nil {
		return nil, err
	}
	ccfg, err := cfg.Collector.Collector()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(cfg.Logging.Logx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := observe.NewProm(promReg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	obs := observe.Multi{observe.BusObserver{Bus: bus}, prom}

	q := queue.New(qcfg, log.With(logx.String("comp", "queue")), obs)
	reg := registry.New(rcfg, log.With(logx.String("comp", "registry")), obs)
	col := collector.New(ccfg, reg, q, o.fetcher, log.With(logx.String("comp", "collector")))

	a := &App{
		cfgm:  cfgm,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		reg:   reg,
		queue: q,
		col:   col,
	}
	addr, path := cfg.Metrics.Endpoint()
	a.metrics = metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: addr, Path: path}, promReg, metrics.Probes{
		Health: func() (bool, any) {
			h := q.Health()
			return h.Healthy, h
		},
		Status: func() any { return a.Status() },
	}, log.With(logx.String("comp", "metrics")))

	if err := a.seed(cfg.Sources.SeedFile); err != nil {
		return nil, err
	}
	return a, nil
}

// seed imports the catalog file. A missing file is not an error.
func (a *App) seed(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Info("sources.seed_missing", logx.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	res, err := a.reg.ImportSources(b, registry.ImportOptions{})
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	for _, e := range res.Errors {
		a.log.Warn("sources.seed_skipped", logx.String("path", path), logx.String("reason", e))
	}
	return nil
}

func (a *App) Registry() *registry.Registry    { return a.reg }
func (a *App) Queue() *queue.Queue             { return a.queue }
func (a *App) Collector() *collector.Collector { return a.col }
func (a *App) Bus() eventbus.Bus               { return a.bus }

// Status is served on the metrics endpoint's /status.
type Status struct {
	Collector  collector.Snapshot     `json:"collector"`
	Goroutines []supervisor.TaskStats `json:"goroutines,omitempty"`
}

func (a *App) Status() Status {
	st := Status{Collector: a.col.Snapshot()}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.queue.Start(run); err != nil {
		return err
	}
	if err := a.col.Start(run); err != nil {
		return err
	}
	a.metrics.Reconfigure(run, a.metricsConfig(a.cfgm.Get()))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.apply(c, last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("harvester started", logx.Int("sources", a.reg.Len()))
	return nil
}

// apply pushes a reloaded config into the live components. Queue and
// registry sizing is fixed at construction and only logged.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(next.Logging.Logx())
		case "collector":
			ccfg, err := next.Collector.Collector()
			if err == nil {
				err = a.col.Apply(ccfg)
			}
			if err != nil {
				a.log.Warn("collector config rejected", logx.Err(err))
			}
		case "metrics":
			a.metrics.Reconfigure(ctx, a.metricsConfig(next))
		case "queue", "registry":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
}

func (a *App) metricsConfig(cfg *config.Config) metrics.Config {
	if cfg == nil {
		return metrics.Config{}
	}
	addr, path := cfg.Metrics.Endpoint()
	return metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: addr, Path: path}
}

// Stop shuts components down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if err := a.sup.Err(); err != nil {
		a.log.Error("stopping after failure", logx.Err(err))
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("collector", 2*time.Second, func(c context.Context) error { a.col.Stop(c); return nil })
	step("queue", 10*time.Second, func(c context.Context) error { a.queue.Stop(c); return nil })
	step("metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("export", time.Second, func(context.Context) error { return a.export() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// export writes the catalog when the config asks for it. The file is
// replaced atomically.
func (a *App) export() error {
	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Sources.ExportOnShutdown {
		return nil
	}
	path := strings.TrimSpace(cfg.Sources.ExportFile)
	if path == "" {
		path = strings.TrimSpace(cfg.Sources.SeedFile)
	}
	if path == "" {
		return errors.New("sources.export_on_shutdown set without export_file or seed_file")
	}
	b, err := a.reg.ExportSources()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sources-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	a.log.Info("sources exported", logx.String("path", path), logx.Int("sources", a.reg.Len()))
	return nil
}
