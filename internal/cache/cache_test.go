package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquireRelease(t *testing.T) {
	t.Parallel()
	m := NewManager(time.Minute, 0)

	assert.True(t, m.Acquire("src-1", "job-a"))
	assert.False(t, m.Acquire("src-1", "job-b"))
	assert.True(t, m.Acquire("src-2", "job-c"))
	assert.ElementsMatch(t, []string{"src-1", "src-2"}, m.Keys())

	m.Release("src-1")
	assert.ElementsMatch(t, []string{"src-2"}, m.Keys())
	assert.True(t, m.Acquire("src-1", "job-d"))

	m.Release("missing")
	assert.Len(t, m.Keys(), 2)
}

func TestManagerAcquireAfterExpiry(t *testing.T) {
	t.Parallel()
	m := NewManager(10*time.Millisecond, 0)
	require.True(t, m.Acquire("k", nil))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, m.Keys(), "expired claims are not listed")
	assert.True(t, m.Acquire("k", nil), "an expired claim can be taken again")
}
