// Package registry keeps the catalog of content sources the harvester
// collects from, together with their reliability and validation state.
//
// The catalog lives in memory behind a single lock. It is only persisted
// through ExportSources / ImportSources.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"eventharvest/internal/observe"
	logx "eventharvest/pkg/logx"
)

// Probe politeness limits. Config values outside them are clamped.
const (
	MaxProbeBatch = 5
	MinBatchPause = time.Second
)

type Config struct {
	// MaxSources caps the catalog. Default 1000.
	MaxSources int

	// ValidateOnAdd probes every new source. A failing probe still stores the
	// source, disabled.
	ValidateOnAdd bool

	ProbeTimeout time.Duration // default 10s
	BatchSize    int           // concurrent probes in ValidateAllSources, default and max 5
	BatchPause   time.Duration // pause between batches, default and min 1s
}

func (c Config) withDefaults() Config {
	if c.MaxSources <= 0 {
		c.MaxSources = 1000
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.BatchSize <= 0 || c.BatchSize > MaxProbeBatch {
		c.BatchSize = MaxProbeBatch
	}
	if c.BatchPause < MinBatchPause {
		c.BatchPause = MinBatchPause
	}
	return c
}

type Registry struct {
	cfg    Config
	log    logx.Logger
	obs    observe.Observer
	clock  clock.Clock
	client *http.Client

	mu      sync.RWMutex
	sources map[string]*Source
	order   []string
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithHTTPClient replaces the client used for validation probes.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		if c != nil {
			r.client = c
		}
	}
}

func New(cfg Config, log logx.Logger, obs observe.Observer, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:     cfg,
		log:     log,
		obs:     observe.OrNop(obs),
		clock:   clock.New(),
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		sources: make(map[string]*Source),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SourceID derives the stable id used when a source is added without one.
func SourceID(name, rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name+"|"+rawURL)).String()
}

// InferType classifies a URL by its path and extension.
func InferType(rawURL string) SourceType {
	s := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		s = strings.ToLower(u.Path + "?" + u.RawQuery)
	}
	switch {
	case strings.Contains(s, ".ics") || strings.Contains(s, "ical") || strings.Contains(s, "calendar"):
		return TypeICS
	case strings.Contains(s, "rss") || strings.Contains(s, "feed") || strings.Contains(s, ".xml"):
		return TypeRSS
	case strings.Contains(s, "/api/") || strings.Contains(s, ".json"):
		return TypeAPI
	default:
		return TypeHTML
	}
}

var baseKeywords = []string{"event", "festival", "concert", "exhibition", "market", "workshop"}

// DefaultStrategy returns the search strategy a new source of type t starts
// with: a keyword seed list and a one-year look-ahead window from now.
func DefaultStrategy(t SourceType, now time.Time) SearchStrategy {
	st := SearchStrategy{
		Keywords:  slices.Clone(baseKeywords),
		Exclude:   []string{"cancelled", "postponed", "sold out"},
		DateRange: DateRange{Start: now, End: now.AddDate(1, 0, 0)},
	}
	switch t {
	case TypeRSS:
		st.Method = "feed"
	case TypeICS:
		st.Method = "calendar"
		st.Keywords = nil
	case TypeAPI:
		st.Method = "query"
	default:
		st.Method = "scrape"
		st.Keywords = append(st.Keywords, "agenda", "programme")
	}
	return st
}

func checkInput(in SourceInput) error {
	if in.Type != "" && !in.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, in.Type)
	}
	if in.UpdateFrequency != "" && !in.UpdateFrequency.Valid() {
		return fmt.Errorf("%w: unknown update frequency %q", ErrValidation, in.UpdateFrequency)
	}
	if in.CrawlDelayMs != nil && *in.CrawlDelayMs < 0 {
		return fmt.Errorf("%w: crawl delay must not be negative", ErrValidation)
	}
	return nil
}

// buildSource creates a new source from in, filling defaults.
func buildSource(in SourceInput, now time.Time) (Source, error) {
	in.Name, in.URL = strings.TrimSpace(in.Name), strings.TrimSpace(in.URL)
	if in.Name == "" || in.URL == "" {
		return Source{}, fmt.Errorf("%w: name and url are required", ErrValidation)
	}
	if err := checkInput(in); err != nil {
		return Source{}, err
	}
	s := Source{
		ID:              in.ID,
		Category:        DefaultCategory,
		Region:          RegionAll,
		UpdateFrequency: FreqWeekly,
		CrawlDelayMs:    DefaultCrawlDelay,
		Reliability:     DefaultReliability,
		Enabled:         true,
		RobotsCompliant: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if s.ID == "" {
		s.ID = SourceID(in.Name, in.URL)
	}
	if in.CreatedAt != nil {
		s.CreatedAt = *in.CreatedAt
	}
	mergeInput(&s, in)
	if s.Type == "" {
		s.Type = InferType(s.URL)
	}
	if in.SearchStrategy == nil {
		s.SearchStrategy = DefaultStrategy(s.Type, now)
	}
	return s, nil
}

// mergeInput copies the provided fields of in onto s. The id never changes.
func mergeInput(s *Source, in SourceInput) {
	if v := strings.TrimSpace(in.Name); v != "" {
		s.Name = v
	}
	if v := strings.TrimSpace(in.URL); v != "" {
		s.URL = v
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	if in.Type != "" {
		s.Type = in.Type
	}
	if in.Category != "" {
		s.Category = in.Category
	}
	if in.Region != "" {
		s.Region = in.Region
	}
	if in.UpdateFrequency != "" {
		s.UpdateFrequency = in.UpdateFrequency
	}
	if in.LastChecked != nil {
		t := *in.LastChecked
		s.LastChecked = &t
	}
	if in.CrawlDelayMs != nil {
		s.CrawlDelayMs = *in.CrawlDelayMs
	}
	if in.Reliability != nil {
		s.Reliability = clampReliability(*in.Reliability)
	}
	if in.FetchHistory != nil {
		s.FetchHistory = trimHistory(slices.Clone(in.FetchHistory))
		s.SuccessRate = successRate(s.FetchHistory)
	}
	if in.Enabled != nil {
		s.Enabled = *in.Enabled
	}
	if in.RobotsCompliant != nil {
		s.RobotsCompliant = *in.RobotsCompliant
	}
	if in.SearchStrategy != nil {
		s.SearchStrategy = *in.SearchStrategy
	}
	if in.Validation != nil {
		s.Validation = *in.Validation
	}
}

// AddSource registers a new source and returns its id.
func (r *Registry) AddSource(ctx context.Context, in SourceInput) (string, error) {
	now := r.clock.Now()
	src, err := buildSource(in, now)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	err = r.admitLocked(src.ID)
	r.mu.RUnlock()
	if err != nil {
		return "", err
	}

	var res *ValidationResult
	if r.cfg.ValidateOnAdd {
		v := r.probe(ctx, src.URL, src.Type)
		res = &v
		applyValidation(&src, v, r.clock.Now())
		if !v.Valid {
			src.Enabled = false
		}
	}

	r.mu.Lock()
	if err := r.admitLocked(src.ID); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.insertLocked(&src)
	n, mean := len(r.sources), r.meanReliabilityLocked()
	r.mu.Unlock()

	r.obs.SourceCount(n)
	r.obs.MeanReliability(mean)
	if res != nil {
		r.obs.SourceValidated(src.ID, res.Valid, res.Confidence)
		if !res.Valid {
			r.log.Warn("source added disabled", logx.String("source", src.ID), logx.String("url", src.URL), logx.Strings("errors", res.Errors))
		}
	}
	r.log.Info("source.added", logx.String("source", src.ID), logx.String("name", src.Name), logx.String("type", string(src.Type)), logx.Bool("enabled", src.Enabled))
	return src.ID, nil
}

func (r *Registry) admitLocked(id string) error {
	if len(r.sources) >= r.cfg.MaxSources {
		return fmt.Errorf("%w: %d sources", ErrCapacityExceeded, r.cfg.MaxSources)
	}
	if _, ok := r.sources[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	return nil
}

func (r *Registry) insertLocked(s *Source) {
	r.sources[s.ID] = s
	r.order = append(r.order, s.ID)
}

// UpdateSource merges in onto the stored source. The id is immutable and the
// fetch history is kept unless in carries one. When the URL changes the new
// URL is probed first; a failing probe rejects the update.
func (r *Registry) UpdateSource(ctx context.Context, id string, in SourceInput) error {
	if err := checkInput(in); err != nil {
		return err
	}

	r.mu.Lock()
	cur, ok := r.sources[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	newURL := strings.TrimSpace(in.URL)
	if newURL == "" || newURL == cur.URL {
		r.replaceLocked(cur, in, nil)
		r.mu.Unlock()
		r.log.Debug("source.updated", logx.String("source", id))
		return nil
	}
	typ := cur.Type
	if in.Type != "" {
		typ = in.Type
	}
	r.mu.Unlock()

	res := r.probe(ctx, newURL, typ)
	r.obs.SourceValidated(id, res.Valid, res.Confidence)
	if !res.Valid {
		return fmt.Errorf("%w: %s: %s", ErrValidation, newURL, strings.Join(res.Errors, "; "))
	}

	r.mu.Lock()
	cur, ok = r.sources[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.replaceLocked(cur, in, &res)
	r.mu.Unlock()
	r.log.Info("source.updated", logx.String("source", id), logx.String("url", newURL))
	return nil
}

func (r *Registry) replaceLocked(cur *Source, in SourceInput, res *ValidationResult) {
	next := cur.clone()
	mergeInput(&next, in)
	now := r.clock.Now()
	if res != nil {
		applyValidation(&next, *res, now)
	}
	next.ID = cur.ID
	next.UpdatedAt = now
	r.sources[cur.ID] = &next
}

// RemoveSource deletes a source. It reports whether the source existed.
func (r *Registry) RemoveSource(id string) bool {
	r.mu.Lock()
	if _, ok := r.sources[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sources, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	n, mean := len(r.sources), r.meanReliabilityLocked()
	r.mu.Unlock()

	r.obs.SourceRemoved(id)
	r.obs.SourceCount(n)
	r.obs.MeanReliability(mean)
	r.log.Info("source.removed", logx.String("source", id))
	return true
}

// GetSource returns a copy of the source.
func (r *Registry) GetSource(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return Source{}, false
	}
	return s.clone(), true
}

// GetAllSources returns copies of every source in insertion order.
func (r *Registry) GetAllSources() []Source {
	return r.collect(func(*Source) bool { return true })
}

func (r *Registry) GetSources(f Filter) []Source {
	return r.collect(f.match)
}

// GetSourcesForUpdate returns the enabled sources that were never checked or
// whose update interval has elapsed.
func (r *Registry) GetSourcesForUpdate() []Source {
	now := r.clock.Now()
	return r.collect(func(s *Source) bool { return s.Due(now) })
}

func (r *Registry) collect(keep func(*Source) bool) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.order))
	for _, id := range r.order {
		if s := r.sources[id]; keep(s) {
			out = append(out, s.clone())
		}
	}
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func (r *Registry) meanReliabilityLocked() float64 {
	if len(r.sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.sources {
		sum += s.Reliability
	}
	return sum / float64(len(r.sources))
}
