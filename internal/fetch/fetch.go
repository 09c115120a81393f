// Package fetch performs the outbound request behind a collection job.
//
// It does not extract events. Bodies are parsed only far enough to count
// candidate events (feed items, VEVENT blocks, event markup in HTML) so the
// attempt can be reported with a status, a size and a count.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"eventharvest/internal/registry"
)

const (
	UserAgent = "eventharvest/1.0"

	defaultTimeout = 30 * time.Second
	defaultMaxBody = 8 << 20
)

type Result struct {
	StatusCode  int
	EventsFound int
	Bytes       int64
}

// Fetcher retrieves one source.
type Fetcher interface {
	Fetch(ctx context.Context, src registry.Source) (Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src registry.Source) (Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, src registry.Source) (Result, error) {
	return f(ctx, src)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Permanent reports whether retrying is pointless: client errors other than
// timeouts and rate limiting.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent reports whether err carries a permanent StatusError.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

type HTTPFetcher struct {
	client  *http.Client
	parser  *gofeed.Parser
	maxBody int64
}

type Option func(*HTTPFetcher)

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithMaxBody caps how many bytes are read from a response.
func WithMaxBody(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{Timeout: defaultTimeout},
		parser:  gofeed.NewParser(),
		maxBody: defaultMaxBody,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src registry.Source) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return res, &StatusError{Code: resp.StatusCode}
	}

	body := &countingReader{r: io.LimitReader(resp.Body, f.maxBody)}
	n, err := f.count(src.Type, body)
	res.Bytes = body.n
	if err != nil {
		return res, err
	}
	res.EventsFound = n
	return res, nil
}

// eventMarkup selects schema.org Event microdata and the h-event/hCalendar
// microformats.
const eventMarkup = `[itemtype*="schema.org/Event"], .h-event, .vevent`

func (f *HTTPFetcher) count(t registry.SourceType, body io.Reader) (int, error) {
	switch t {
	case registry.TypeRSS:
		feed, err := f.parser.Parse(body)
		if err != nil {
			return 0, fmt.Errorf("parse feed: %w", err)
		}
		return len(feed.Items), nil
	case registry.TypeICS:
		n := 0
		sc := bufio.NewScanner(body)
		for sc.Scan() {
			if strings.EqualFold(strings.TrimSpace(sc.Text()), "BEGIN:VEVENT") {
				n++
			}
		}
		if err := sc.Err(); err != nil {
			return n, fmt.Errorf("read calendar: %w", err)
		}
		return n, nil
	case registry.TypeHTML:
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return 0, fmt.Errorf("parse html: %w", err)
		}
		return doc.Find(eventMarkup).Length(), nil
	default:
		if _, err := io.Copy(io.Discard, body); err != nil {
			return 0, fmt.Errorf("read body: %w", err)
		}
		return 0, nil
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
