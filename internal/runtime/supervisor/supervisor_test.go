package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("fails", func(context.Context) error { return boom })
	s.Go("blocks", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, 5*time.Millisecond)
	err := s.Stop(waitCtx(t))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fails")
}

func TestGoRecoversPanicAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panics", func(context.Context) error { panic("kaboom") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	err := s.Wait(waitCtx(t))
	assert.ErrorContains(t, err, "panic: kaboom")

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Panics)
	assert.Zero(t, snap[0].Active)
}

func TestCancellationIsClean(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(waitCtx(t)))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(3), snap[0].Runs)
	assert.Equal(t, uint64(2), snap[0].Restarts)
	assert.Equal(t, "transient", snap[0].LastErr)
}

func TestGoRestartDoesNotFailSupervisor(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	var calls atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		calls.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	assert.NoError(t, s.Err())
	assert.NoError(t, s.Context().Err())
	assert.NoError(t, s.Stop(waitCtx(t)))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.GreaterOrEqual(t, snap[0].Panics, uint64(3))
}
