package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	src := newTestRegistry(t, Config{}, WithClock(mock))
	ctx := context.Background()

	a, err := src.AddSource(ctx, SourceInput{Name: "a", URL: "https://a.example/events.ics", Region: "east", Category: "music"})
	require.NoError(t, err)
	_, err = src.AddSource(ctx, SourceInput{Name: "b", URL: "https://b.example/", Enabled: ptr(false), CrawlDelayMs: ptr(int64(2500))})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		src.RecordFetchAttempt(a, FetchAttempt{Success: true, EventsFound: 3, Metadata: map[string]any{"etag": "x"}})
	}

	payload, err := src.ExportSources()
	require.NoError(t, err)
	require.True(t, json.Valid(payload))

	dst := newTestRegistry(t, Config{}, WithClock(mock))
	res, err := dst.ImportSources(payload, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Skipped)

	want, got := src.GetAllSources(), dst.GetAllSources()
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Type, got[i].Type)
		assert.Equal(t, want[i].Region, got[i].Region)
		assert.Equal(t, want[i].Enabled, got[i].Enabled)
		assert.Equal(t, want[i].CrawlDelayMs, got[i].CrawlDelayMs)
		assert.Equal(t, want[i].Reliability, got[i].Reliability)
		assert.Equal(t, want[i].SuccessRate, got[i].SuccessRate)
		assert.Len(t, got[i].FetchHistory, len(want[i].FetchHistory))
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}
}

func TestImportRejectsNonArray(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	_, err := r.AddSource(context.Background(), SourceInput{Name: "keep", URL: "https://keep.example/"})
	require.NoError(t, err)

	for _, payload := range []string{``, `null`, `{"name":"x"}`, `"text"`, `[{"name":"x"}`} {
		_, err := r.ImportSources([]byte(payload), ImportOptions{Replace: true})
		assert.ErrorIs(t, err, ErrImportParse, payload)
	}
	assert.Equal(t, 1, r.Len(), "catalog untouched")
}

func TestImportSkipsBadRecords(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	existing, err := r.AddSource(context.Background(), SourceInput{Name: "dup", URL: "https://dup.example/"})
	require.NoError(t, err)

	payload := `[
		{"name": "partial", "url": "https://p.example/rss"},
		{"name": "no url"},
		{"name": 42, "url": "https://bad.example/"},
		{"id": "` + existing + `", "name": "dup", "url": "https://dup.example/"},
		{"name": "typed", "url": "https://t.example/", "type": "ftp"},
		{"id": "custom", "name": "c", "url": "https://c.example/api/", "reliability": 3}
	]`
	res, err := r.ImportSources([]byte(payload), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 4, res.Skipped)
	assert.Len(t, res.Errors, 4)
	assert.Equal(t, 3, r.Len())

	p, ok := r.GetSource(SourceID("partial", "https://p.example/rss"))
	require.True(t, ok)
	assert.Equal(t, TypeRSS, p.Type)
	assert.Equal(t, DefaultReliability, p.Reliability)

	c, ok := r.GetSource("custom")
	require.True(t, ok)
	assert.Equal(t, MaxReliability, c.Reliability)
}

func TestImportReplace(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	old, err := r.AddSource(context.Background(), SourceInput{Name: "old", URL: "https://old.example/"})
	require.NoError(t, err)

	res, err := r.ImportSources([]byte(`[{"name":"new","url":"https://new.example/"}]`), ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	_, ok := r.GetSource(old)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestImportHonoursCapacity(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{MaxSources: 1})
	res, err := r.ImportSources([]byte(`[{"name":"a","url":"https://a.example/"},{"name":"b","url":"https://b.example/"}]`), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, res.Errors[0], "limit")
}
