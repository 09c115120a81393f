package registry

import (
	"strings"
	"time"
)

type SourceType string

const (
	TypeRSS  SourceType = "rss"
	TypeICS  SourceType = "ics"
	TypeAPI  SourceType = "api"
	TypeHTML SourceType = "html"
)

func (t SourceType) Valid() bool {
	switch t {
	case TypeRSS, TypeICS, TypeAPI, TypeHTML:
		return true
	}
	return false
}

// Frequency is the update-frequency class of a source.
type Frequency string

const (
	FreqDaily         Frequency = "daily"
	FreqAlternateDays Frequency = "alternate_days"
	FreqWeekly        Frequency = "weekly"
	FreqMonthly       Frequency = "monthly"
	FreqSeasonal      Frequency = "seasonal"
)

// Interval is how stale a source of this class may become before it is due.
// Unknown classes behave like weekly.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FreqDaily:
		return 24 * time.Hour
	case FreqAlternateDays:
		return 48 * time.Hour
	case FreqMonthly:
		return 30 * 24 * time.Hour
	case FreqSeasonal:
		return 90 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqAlternateDays, FreqWeekly, FreqMonthly, FreqSeasonal:
		return true
	}
	return false
}

// RegionAll marks a source relevant to every region.
const RegionAll = "all"

const (
	DefaultCategory    = "general"
	DefaultReliability = 0.5
	DefaultCrawlDelay  = int64(1000)

	MinReliability = 0.1
	MaxReliability = 1.0

	// MaxHistory bounds Source.FetchHistory; the oldest attempts are dropped.
	MaxHistory = 100
)

type Source struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	URL             string           `json:"url"`
	Description     string           `json:"description,omitempty"`
	Type            SourceType       `json:"type"`
	Category        string           `json:"category"`
	Region          string           `json:"region"`
	UpdateFrequency Frequency        `json:"update_frequency"`
	LastChecked     *time.Time       `json:"last_checked,omitempty"`
	CrawlDelayMs    int64            `json:"crawl_delay_ms"`
	Reliability     float64          `json:"reliability"`
	SuccessRate     float64          `json:"success_rate"`
	FetchHistory    []FetchAttempt   `json:"fetch_history"`
	Enabled         bool             `json:"enabled"`
	RobotsCompliant bool             `json:"robots_compliant"`
	SearchStrategy  SearchStrategy   `json:"search_strategy"`
	Validation      SourceValidation `json:"validation"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CrawlDelay returns the politeness delay between two requests to the source.
func (s Source) CrawlDelay() time.Duration { return time.Duration(s.CrawlDelayMs) * time.Millisecond }

// Due reports whether an enabled source needs a refresh at now.
func (s Source) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastChecked == nil {
		return true
	}
	return now.Sub(*s.LastChecked) >= s.UpdateFrequency.Interval()
}

func (s Source) clone() Source {
	out := s
	if s.LastChecked != nil {
		t := *s.LastChecked
		out.LastChecked = &t
	}
	out.FetchHistory = append([]FetchAttempt(nil), s.FetchHistory...)
	out.SearchStrategy.Keywords = append([]string(nil), s.SearchStrategy.Keywords...)
	out.SearchStrategy.Exclude = append([]string(nil), s.SearchStrategy.Exclude...)
	return out
}

// FetchAttempt is the outcome a collector reports after fetching a source.
type FetchAttempt struct {
	Timestamp   time.Time      `json:"timestamp"`
	Success     bool           `json:"success"`
	StatusCode  int            `json:"status_code,omitempty"`
	EventsFound int            `json:"events_found,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SearchStrategy struct {
	Method    string    `json:"method"`
	Keywords  []string  `json:"keywords"`
	Exclude   []string  `json:"exclude"`
	DateRange DateRange `json:"date_range"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SourceValidation is the summary of the latest probe.
type SourceValidation struct {
	ContentType string     `json:"content_type,omitempty"`
	Encoding    string     `json:"encoding,omitempty"`
	IsValid     bool       `json:"is_valid"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// ValidationResult is the transient output of probing a source.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Confidence  float64  `json:"confidence"`
	StatusCode  int      `json:"status_code,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
}

// SourceInput carries the fields of an add, update or import record.
// Nil pointers and empty values mean "not provided".
type SourceInput struct {
	ID              string            `json:"id,omitempty"`
	Name            string            `json:"name,omitempty"`
	URL             string            `json:"url,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Type            SourceType        `json:"type,omitempty"`
	Category        string            `json:"category,omitempty"`
	Region          string            `json:"region,omitempty"`
	UpdateFrequency Frequency         `json:"update_frequency,omitempty"`
	LastChecked     *time.Time        `json:"last_checked,omitempty"`
	CrawlDelayMs    *int64            `json:"crawl_delay_ms,omitempty"`
	Reliability     *float64          `json:"reliability,omitempty"`
	FetchHistory    []FetchAttempt    `json:"fetch_history,omitempty"`
	Enabled         *bool             `json:"enabled,omitempty"`
	RobotsCompliant *bool             `json:"robots_compliant,omitempty"`
	SearchStrategy  *SearchStrategy   `json:"search_strategy,omitempty"`
	Validation      *SourceValidation `json:"validation,omitempty"`
	CreatedAt       *time.Time        `json:"created_at,omitempty"` // honoured on add and import only
}

// Filter selects sources; set fields combine with AND.
type Filter struct {
	Enabled        *bool
	Type           SourceType
	Category       string
	Region         string // also matches sources in RegionAll
	MinReliability float64
}

func (f Filter) match(s *Source) bool {
	if f.Enabled != nil && s.Enabled != *f.Enabled {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Category != "" && !strings.EqualFold(s.Category, f.Category) {
		return false
	}
	if f.Region != "" && s.Region != f.Region && s.Region != RegionAll {
		return false
	}
	return s.Reliability >= f.MinReliability
}

type Statistics struct {
	Total           int            `json:"total"`
	Enabled         int            `json:"enabled"`
	ByType          map[string]int `json:"by_type"`
	ByRegion        map[string]int `json:"by_region"`
	ByCategory      map[string]int `json:"by_category"`
	MeanReliability float64        `json:"mean_reliability"`
	// Underperforming counts sources checked in the last 24h whose success
	// rate is below 0.5.
	Underperforming int            `json:"underperforming"`
}

type ImportOptions struct {
	// Replace clears the catalog before importing.
	Replace bool
}

type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
