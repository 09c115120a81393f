// Package collector closes the loop between the source registry and the job
// queue: it turns due sources into fetch jobs and reports every attempt back
// to the registry.
package collector

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"eventharvest/internal/cache"
	"eventharvest/internal/fetch"
	"eventharvest/internal/queue"
	"eventharvest/internal/registry"
	logx "eventharvest/pkg/logx"
)

type Config struct {
	// Schedules accept cron expressions, Go durations, HH:MM intervals or "off".
	CollectSchedule  string // default "15m"
	ValidateSchedule string // default "@daily"

	// InFlightTTL bounds how long a source stays claimed by a job that never
	// reported back (for example one removed from the queue). Default 1h.
	InFlightTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CollectSchedule == "" {
		c.CollectSchedule = "15m"
	}
	if c.ValidateSchedule == "" {
		c.ValidateSchedule = "@daily"
	}
	if c.InFlightTTL <= 0 {
		c.InFlightTTL = time.Hour
	}
	return c
}

type Collector struct {
	log     logx.Logger
	reg     *registry.Registry
	queue   *queue.Queue
	fetcher fetch.Fetcher
	clock   clock.Clock

	inflight *cache.Manager

	mu       sync.Mutex
	cfg      Config
	cron     *cron.Cron
	ctx      context.Context
	limiters map[string]*rate.Limiter
	stats    Stats
}

// Stats are the collector's own counters.
type Stats struct {
	Rounds       uint64    `json:"rounds"`
	Enqueued     uint64    `json:"enqueued"`
	SkippedBusy  uint64    `json:"skipped_busy"`
	LastCollect  time.Time `json:"last_collect,omitempty"`
	LastValidate time.Time `json:"last_validate,omitempty"`
}

type Option func(*Collector)

func WithClock(c clock.Clock) Option {
	return func(col *Collector) {
		if c != nil {
			col.clock = c
		}
	}
}

func New(cfg Config, reg *registry.Registry, q *queue.Queue, f fetch.Fetcher, log logx.Logger, opts ...Option) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	if f == nil {
		f = fetch.NewHTTPFetcher()
	}
	cfg = cfg.withDefaults()
	c := &Collector{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		queue:    q,
		fetcher:  f,
		clock:    clock.New(),
		inflight: cache.NewManager(cfg.InFlightTTL, 0),
		limiters: map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PriorityFor maps a source to a queue priority. Sources never checked go
// first; after that, more reliable sources are fetched earlier.
func PriorityFor(s registry.Source) int {
	switch {
	case s.LastChecked == nil:
		return queue.PriorityHigh
	case s.Reliability >= 0.8:
		return queue.PriorityHigh
	case s.Reliability >= 0.5:
		return queue.PriorityNormal
	default:
		return queue.PriorityLow
	}
}

// CollectDue enqueues a fetch job for every due source that has no job in
// flight yet. It returns the number of jobs enqueued.
func (c *Collector) CollectDue(ctx context.Context) int {
	due := c.reg.GetSourcesForUpdate()
	enqueued, busy := 0, 0
	for _, src := range due {
		if ctx.Err() != nil {
			break
		}
		jobID := uuid.NewString()
		if !c.inflight.Acquire(src.ID, jobID) {
			busy++
			continue
		}
		id := src.ID
		_, err := c.queue.Enqueue(queue.Job{
			ID:       jobID,
			Name:     "fetch " + src.Name,
			Priority: PriorityFor(src),
			Run:      c.fetchJob(src),
			OnDone: func(res queue.Result) {
				c.inflight.Release(id)
				if res.Err != nil {
					c.log.Warn("source fetch gave up", logx.String("source", id), logx.Int("attempts", res.Attempts), logx.Err(res.Err))
				}
			},
		})
		if err != nil {
			c.inflight.Release(src.ID)
			c.log.Error("enqueue failed", logx.String("source", src.ID), logx.Err(err))
			continue
		}
		enqueued++
	}

	c.mu.Lock()
	c.stats.Rounds++
	c.stats.Enqueued += uint64(enqueued)
	c.stats.SkippedBusy += uint64(busy)
	c.stats.LastCollect = c.clock.Now()
	c.mu.Unlock()

	if enqueued > 0 || busy > 0 {
		c.log.Info("collection round", logx.Int("due", len(due)), logx.Int("enqueued", enqueued), logx.Int("busy", busy))
	} else {
		c.log.Debug("collection round", logx.Int("due", 0))
	}
	return enqueued
}

// fetchJob builds the unit of work for src. Every attempt, including retries,
// is reported to the registry.
func (c *Collector) fetchJob(src registry.Source) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := c.limiter(src).Wait(ctx); err != nil {
			return fmt.Errorf("crawl delay: %w", err)
		}
		start := c.clock.Now()
		res, err := c.fetcher.Fetch(ctx, src)
		attempt := registry.FetchAttempt{
			Timestamp:   c.clock.Now(),
			Success:     err == nil,
			StatusCode:  res.StatusCode,
			EventsFound: res.EventsFound,
			DurationMs:  c.clock.Since(start).Milliseconds(),
		}
		if res.Bytes > 0 {
			attempt.Metadata = map[string]any{"bytes": res.Bytes}
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		c.reg.RecordFetchAttempt(src.ID, attempt)

		if fetch.IsPermanent(err) {
			return queue.NoRetry(err)
		}
		return err
	}
}

// limiter returns the politeness limiter for the source host. Sources on the
// same host share it, at the slowest crawl delay seen for that host.
func (c *Collector) limiter(src registry.Source) *rate.Limiter {
	key := src.URL
	if u, err := url.Parse(src.URL); err == nil && u.Host != "" {
		key = u.Host
	}
	limit := rate.Inf
	if d := src.CrawlDelay(); d > 0 {
		limit = rate.Every(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		c.limiters[key] = l
		return l
	}
	if limit < l.Limit() {
		l.SetLimit(limit)
	}
	return l
}

// ValidateAll probes every source through the registry.
func (c *Collector) ValidateAll(ctx context.Context) map[string]registry.ValidationResult {
	res := c.reg.ValidateAllSources(ctx)
	c.mu.Lock()
	c.stats.LastValidate = c.clock.Now()
	c.mu.Unlock()
	return res
}

// Start registers the periodic schedules and runs a first collection round.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cron != nil {
		c.mu.Unlock()
		return nil
	}
	cr, err := c.buildCronLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ctx = ctx
	c.cron = cr
	cfg := c.cfg
	cr.Start()
	c.mu.Unlock()

	c.log.Info("collector started", logx.String("collect", cfg.CollectSchedule), logx.String("validate", cfg.ValidateSchedule))
	c.CollectDue(ctx)
	return nil
}

// Stop halts the schedules and waits for a running round, or for ctx.
func (c *Collector) Stop(ctx context.Context) {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return
	}
	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
	}
	c.log.Info("collector stopped")
}

// Apply swaps the configuration, restarting the schedules if running. An
// invalid schedule leaves the previous configuration in place.
func (c *Collector) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cfg
	c.cfg = cfg
	if c.cron == nil {
		if _, err := c.schedulesLocked(); err != nil {
			c.cfg = prev
			return err
		}
		return nil
	}
	cr, err := c.buildCronLocked(c.ctx)
	if err != nil {
		c.cfg = prev
		return err
	}
	c.cron.Stop()
	c.cron = cr
	cr.Start()
	c.log.Info("collector schedules applied", logx.String("collect", cfg.CollectSchedule), logx.String("validate", cfg.ValidateSchedule))
	return nil
}

type namedSchedule struct {
	name string
	spec ParsedSpec
	run  func(ctx context.Context)
}

func (c *Collector) schedulesLocked() ([]namedSchedule, error) {
	if err := ValidateSchedule(c.cfg.CollectSchedule); err != nil {
		return nil, fmt.Errorf("collect schedule: %w", err)
	}
	if err := ValidateSchedule(c.cfg.ValidateSchedule); err != nil {
		return nil, fmt.Errorf("validate schedule: %w", err)
	}
	collect, _ := ParseSchedule(c.cfg.CollectSchedule)
	validate, _ := ParseSchedule(c.cfg.ValidateSchedule)
	return []namedSchedule{
		{name: "collect", spec: collect, run: func(ctx context.Context) { c.CollectDue(ctx) }},
		{name: "validate", spec: validate, run: func(ctx context.Context) { c.ValidateAll(ctx) }},
	}, nil
}

func (c *Collector) buildCronLocked(ctx context.Context) (*cron.Cron, error) {
	scheds, err := c.schedulesLocked()
	if err != nil {
		return nil, err
	}
	logger := cronLogger{log: c.log}
	cr := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, s := range scheds {
		if s.spec.Kind == SpecOff {
			continue
		}
		run := s.run
		if _, err := cr.AddFunc(s.spec.CronSpec(), func() { run(ctx) }); err != nil {
			return nil, fmt.Errorf("%s schedule %q: %w", s.name, s.spec.CronSpec(), err)
		}
	}
	return cr, nil
}

// Snapshot is a combined view for diagnostics.
type Snapshot struct {
	Running  bool                `json:"running"`
	Stats    Stats               `json:"stats"`
	InFlight []string            `json:"in_flight"`
	NextRuns []time.Time         `json:"next_runs,omitempty"`
	Queue    queue.Snapshot      `json:"queue"`
	Health   queue.HealthStatus  `json:"health"`
	Sources  registry.Statistics `json:"sources"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{Running: c.cron != nil, Stats: c.stats}
	if c.cron != nil {
		for _, e := range c.cron.Entries() {
			snap.NextRuns = append(snap.NextRuns, e.Next)
		}
	}
	c.mu.Unlock()

	snap.InFlight = c.inflight.Keys()
	sort.Strings(snap.InFlight)
	snap.Queue = c.queue.Snapshot()
	snap.Health = c.queue.Health()
	snap.Sources = c.reg.GetStatistics()
	return snap
}

// cronLogger routes robfig/cron logs through logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
