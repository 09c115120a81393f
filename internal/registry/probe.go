package registry

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "eventharvest/pkg/logx"
)

// UserAgent identifies validation probes to remote hosts.
const UserAgent = "eventharvest-validator/1.0"

// Probe confidence levels.
const (
	ConfidenceOK          = 0.9
	ConfidenceWarnings    = 0.7
	ConfidenceBadStatus   = 0.2
	ConfidenceUnreachable = 0.1
)

// probe checks that rawURL exists with a HEAD request and that its declared
// content type fits t. The body is never read.
func (r *Registry) probe(ctx context.Context, rawURL string, t SourceType) ValidationResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("invalid url: %v", err)}, Confidence: ConfidenceUnreachable}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("request failed: %v", err)}, Confidence: ConfidenceUnreachable}
	}
	defer resp.Body.Close()

	res := ValidationResult{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Errors = []string{fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
		res.Confidence = ConfidenceBadStatus
		return res
	}
	res.Valid = true
	if w := contentTypeWarning(t, res.ContentType); w != "" {
		res.Warnings = append(res.Warnings, w)
	}
	res.Confidence = ConfidenceOK
	if len(res.Warnings) > 0 {
		res.Confidence = ConfidenceWarnings
	}
	return res
}

// contentTypeWarning returns a warning when the declared content type does not
// fit the source type. HTML pages accept anything.
func contentTypeWarning(t SourceType, contentType string) string {
	ct := strings.ToLower(contentType)
	var want []string
	switch t {
	case TypeRSS:
		want = []string{"xml", "rss"}
	case TypeICS:
		want = []string{"calendar", "text/plain"}
	case TypeAPI:
		want = []string{"json"}
	default:
		return ""
	}
	for _, w := range want {
		if strings.Contains(ct, w) {
			return ""
		}
	}
	if ct == "" {
		return fmt.Sprintf("no content type declared for %s source", t)
	}
	return fmt.Sprintf("content type %q unexpected for %s source", contentType, t)
}

// applyValidation writes the probe summary onto s.
func applyValidation(s *Source, res ValidationResult, now time.Time) {
	v := SourceValidation{ContentType: res.ContentType, IsValid: res.Valid, ValidatedAt: &now}
	if mt, params, err := mime.ParseMediaType(res.ContentType); err == nil {
		v.ContentType = mt
		v.Encoding = params["charset"]
	}
	s.Validation = v
}

// ValidateSource probes a stored source and records the outcome on it,
// whatever the outcome. Transport failures come back as a low-confidence
// result, never as an error.
func (r *Registry) ValidateSource(ctx context.Context, id string) (ValidationResult, error) {
	r.mu.RLock()
	s, ok := r.sources[id]
	var rawURL string
	var typ SourceType
	if ok {
		rawURL, typ = s.URL, s.Type
	}
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	res := r.probe(ctx, rawURL, typ)

	r.mu.Lock()
	// Skip the write-back if the URL changed while probing.
	if s, ok := r.sources[id]; ok && s.URL == rawURL {
		applyValidation(s, res, r.clock.Now())
	}
	r.mu.Unlock()

	r.obs.SourceValidated(id, res.Valid, res.Confidence)
	if res.Valid {
		r.log.Debug("source.validated", logx.String("source", id), logx.Float64("confidence", res.Confidence), logx.Strings("warnings", res.Warnings))
	} else {
		r.log.Warn("source.validated", logx.String("source", id), logx.Float64("confidence", res.Confidence), logx.Strings("errors", res.Errors))
	}
	return res, nil
}

// ValidateAllSources probes every source in batches of Config.BatchSize
// concurrent probes, pausing Config.BatchPause between batches. It returns
// the results gathered so far if ctx ends.
func (r *Registry) ValidateAllSources(ctx context.Context) map[string]ValidationResult {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make(map[string]ValidationResult, len(ids))
	var mu sync.Mutex
	for start := 0; start < len(ids); start += r.cfg.BatchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				r.log.Warn("validation interrupted", logx.Int("validated", len(out)), logx.Int("total", len(ids)), logx.Err(ctx.Err()))
				return out
			case <-r.clock.After(r.cfg.BatchPause):
			}
		}
		batch := ids[start:min(start+r.cfg.BatchSize, len(ids))]

		// Plain group: one failing probe must not cancel its neighbours.
		var g errgroup.Group
		g.SetLimit(r.cfg.BatchSize)
		for _, id := range batch {
			g.Go(func() error {
				res, err := r.ValidateSource(ctx, id)
				if err != nil {
					return nil // removed meanwhile
				}
				mu.Lock()
				out[id] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	valid := 0
	for _, res := range out {
		if res.Valid {
			valid++
		}
	}
	r.log.Info("sources validated", logx.Int("total", len(out)), logx.Int("valid", valid))
	return out
}
