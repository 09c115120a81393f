package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &m))
	return m
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("component", "queue"))
	log.Info("job.completed",
		String("job", "j1"),
		Int("attempts", 2),
		Duration("processing", 1500*time.Millisecond),
		Err(errors.New("boom")),
		Err(nil),
	)

	m := decodeLine(t, buf.Bytes())
	assert.Equal(t, "job.completed", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "queue", m["component"])
	assert.Equal(t, "j1", m["job"])
	assert.EqualValues(t, 2, m["attempts"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("hidden")
	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))

	log.Warn("shown")
	assert.Equal(t, "shown", decodeLine(t, buf.Bytes())["message"])
}

func TestZeroAndNopAreSilent(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("nothing")

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.With(String("k", "v")).Error("nothing")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel(" Warning ")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, lvl)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "harvester.log")
	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("source.added", String("source", "abc"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	m := decodeLine(t, b)
	assert.Equal(t, "source.added", m["message"])
	assert.Equal(t, "abc", m["source"])

	// Loggers handed out earlier follow Apply.
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("dropped")
	b2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(b), len(b2))
}
