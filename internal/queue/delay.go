package queue

import (
	"time"

	"github.com/benbjohnson/clock"
)

// retryScheduler holds jobs waiting out their backoff before re-entering the
// pending list. Timers come from the injected clock so tests can advance time.
//
// It is guarded by Queue.mu.
type retryScheduler struct {
	clock  clock.Clock
	timers map[*queuedJob]*clock.Timer
}

func newRetryScheduler(c clock.Clock) *retryScheduler {
	return &retryScheduler{clock: c, timers: make(map[*queuedJob]*clock.Timer)}
}

func (r *retryScheduler) schedule(qj *queuedJob, d time.Duration, fire func()) {
	r.timers[qj] = r.clock.AfterFunc(d, fire)
}

// take removes qj once its timer fired. False means it was cancelled meanwhile.
func (r *retryScheduler) take(qj *queuedJob) bool {
	if _, ok := r.timers[qj]; !ok {
		return false
	}
	delete(r.timers, qj)
	return true
}

func (r *retryScheduler) cancel(id string) bool {
	for qj, t := range r.timers {
		if qj.job.ID == id {
			t.Stop()
			delete(r.timers, qj)
			return true
		}
	}
	return false
}

func (r *retryScheduler) len() int { return len(r.timers) }
