package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCodes(st HealthStatus) []string {
	out := make([]string, 0, len(st.Issues))
	for _, i := range st.Issues {
		out = append(out, i.Code)
	}
	return out
}

func TestHealthyWhenIdle(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, 2)
	st := q.Health()
	assert.True(t, st.Healthy)
	assert.Empty(t, st.Issues)
	assert.True(t, q.IsHealthy())
}

func TestHealthBacklog(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, 1)
	release := pin(t, q)
	defer release()

	for i := 0; i < 50; i++ {
		_, err := q.Enqueue(Job{ID: fmt.Sprintf("j%d", i), Run: func(context.Context) error { return nil }})
		require.NoError(t, err)
	}
	assert.True(t, q.IsHealthy(), "50 pending is at the threshold")

	_, err := q.Enqueue(Job{ID: "j50", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)
	st := q.Health()
	assert.False(t, st.Healthy)
	assert.Equal(t, []string{IssueBacklog}, issueCodes(st))
	assert.Equal(t, 51, st.Pending)
	assert.Equal(t, 1, st.ActiveWorkers)
	assert.NotEmpty(t, st.Issues[0].Hint)
}

func TestHealthFailureRateAndWait(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, 1)

	q.mu.Lock()
	q.stats.Processed = 9
	q.stats.Failed = 1
	q.mu.Unlock()
	assert.True(t, q.IsHealthy(), "10% is not above the threshold")

	q.mu.Lock()
	q.stats.Failed = 2
	q.stats.AvgWait = 6 * time.Minute
	q.mu.Unlock()

	st := q.Health()
	assert.False(t, st.Healthy)
	assert.ElementsMatch(t, []string{IssueHighFailureRate, IssueSlowDispatch}, issueCodes(st))
}

func TestHealthStuckWorker(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	q := newTestQueue(t, 1, WithClock(mock))
	release := pin(t, q)
	defer release()

	mock.Add(30 * time.Minute)
	assert.True(t, q.IsHealthy())

	mock.Add(time.Second)
	st := q.Health()
	assert.Equal(t, []string{IssueStuckWorker}, issueCodes(st))
	assert.Contains(t, st.Issues[0].Message, "blocker")
}
