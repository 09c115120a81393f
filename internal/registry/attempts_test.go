package registry

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOne(t *testing.T, r *Registry) string {
	t.Helper()
	id, err := r.AddSource(context.Background(), SourceInput{Name: "s", URL: "https://s.example/feed"})
	require.NoError(t, err)
	return id
}

func TestReliabilityDropsOnceAfterTenFailures(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	id := addOne(t, r)

	r.RecordFetchAttempt(id, FetchAttempt{Success: true})
	for i := 0; i < 10; i++ {
		r.RecordFetchAttempt(id, FetchAttempt{Success: false, Error: "timeout"})
	}

	s, _ := r.GetSource(id)
	assert.Equal(t, 0.4, s.Reliability)
	assert.InDelta(t, 1.0/11, s.SuccessRate, 1e-12)
	require.NotNil(t, s.LastChecked)
	assert.Equal(t, s.FetchHistory[10].Timestamp, *s.LastChecked)
}

func TestReliabilityRisesOnSustainedSuccess(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	id := addOne(t, r)

	for i := 0; i < 10; i++ {
		r.RecordFetchAttempt(id, FetchAttempt{Success: true})
	}
	s, _ := r.GetSource(id)
	assert.Equal(t, 0.5, s.Reliability, "no adjustment before the window is exceeded")

	r.RecordFetchAttempt(id, FetchAttempt{Success: true})
	s, _ = r.GetSource(id)
	assert.Equal(t, 0.55, s.Reliability)

	for i := 0; i < 20; i++ {
		r.RecordFetchAttempt(id, FetchAttempt{Success: true})
	}
	s, _ = r.GetSource(id)
	assert.Equal(t, 0.9, s.Reliability, "no increase at or above the ceiling")
}

func TestReliabilityMixedWindowHolds(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	id := addOne(t, r)

	for i := 0; i < 30; i++ {
		r.RecordFetchAttempt(id, FetchAttempt{Success: i%2 == 0})
	}
	s, _ := r.GetSource(id)
	assert.Equal(t, 0.5, s.Reliability)
	assert.Equal(t, 0.5, s.SuccessRate)
}

func TestAttemptInvariants(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	id := addOne(t, r)
	rng := rand.New(rand.NewPCG(1, 2))

	prev := DefaultReliability
	for i := 0; i < 400; i++ {
		// Long streaks so the controller moves in both directions.
		success := (i/40)%2 == 0
		if rng.IntN(10) == 0 {
			success = !success
		}
		r.RecordFetchAttempt(id, FetchAttempt{Success: success})

		s, _ := r.GetSource(id)
		require.LessOrEqual(t, len(s.FetchHistory), MaxHistory)
		ok := 0
		for _, a := range s.FetchHistory {
			if a.Success {
				ok++
			}
		}
		require.Equal(t, float64(ok)/float64(len(s.FetchHistory)), s.SuccessRate)
		require.GreaterOrEqual(t, s.Reliability, MinReliability)
		require.LessOrEqual(t, s.Reliability, MaxReliability)

		delta := s.Reliability - prev
		require.True(t, math.Abs(delta) < 1e-9 || math.Abs(delta+0.1) < 1e-9 || math.Abs(delta-0.05) < 1e-9,
			"attempt %d moved reliability by %v", i, delta)
		prev = s.Reliability
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	id := addOne(t, r)

	for i := 0; i < MaxHistory+25; i++ {
		r.RecordFetchAttempt(id, FetchAttempt{Success: true, EventsFound: i})
	}
	s, _ := r.GetSource(id)
	require.Len(t, s.FetchHistory, MaxHistory)
	assert.Equal(t, 25, s.FetchHistory[0].EventsFound)
	assert.Equal(t, MaxHistory+24, s.FetchHistory[MaxHistory-1].EventsFound)
}

func TestRecordFetchAttemptUnknownSource(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{})
	assert.NotPanics(t, func() { r.RecordFetchAttempt("nope", FetchAttempt{Success: true}) })
	assert.Zero(t, r.Len())
}

func TestAdjustReliabilityStepsExactly(t *testing.T) {
	t.Parallel()
	history := func(ok bool) []FetchAttempt {
		h := make([]FetchAttempt, controlWindow+1)
		for i := range h {
			h[i].Success = ok
		}
		return h
	}
	assert.Equal(t, 0.17345, adjustReliability(0.12345, history(true)))
	assert.Equal(t, 0.23333, adjustReliability(0.33333, history(false)))
	assert.Equal(t, 0.55, adjustReliability(0.5, history(true)))
	assert.Equal(t, 0.4, adjustReliability(0.5, history(false)))
}

func TestClampReliability(t *testing.T) {
	t.Parallel()
	assert.Equal(t, MinReliability, clampReliability(-3))
	assert.Equal(t, MaxReliability, clampReliability(1.7))
	assert.Equal(t, 0.42, clampReliability(0.42))
}
