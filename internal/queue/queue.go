// Package queue runs caller-supplied units of work on a fixed pool of workers.
//
// Pending jobs are kept in priority order (lower number first, FIFO among
// equals). A failed job is retried up to MaxRetries times with exponential
// backoff; a retried job re-enters at the head of the list regardless of its
// priority, so recovery work runs before newly arrived jobs.
package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"eventharvest/internal/observe"
	logx "eventharvest/pkg/logx"
)

type Queue struct {
	cfg   Config
	log   logx.Logger
	obs   observe.Observer
	clock clock.Clock

	mu      sync.Mutex
	pending []*queuedJob
	workers []*worker
	delayed *retryScheduler
	stats   Stats

	// changed is closed and replaced on every state change; waiters select on it.
	changed chan struct{}

	started  bool
	wake     chan struct{}
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

type worker struct {
	id        int
	current   *queuedJob
	processed uint64
}

type Option func(*Queue)

// WithClock injects the time source used for timestamps, backoff and timeouts.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

func New(cfg Config, log logx.Logger, obs observe.Observer, opts ...Option) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		cfg:     cfg.withDefaults(),
		log:     log,
		obs:     observe.OrNop(obs),
		clock:   clock.New(),
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.delayed = newRetryScheduler(q.clock)
	return q
}

// Start launches the worker pool. It is idempotent; if a previous Stop is still
// draining, Start waits for it (or for ctx).
//
// Enqueue starts the pool on first use, so calling Start is only needed to
// resume after Stop.
func (q *Queue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.stopCh != nil {
		done := q.stopDone
		q.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		q.mu.Lock()
		if q.stopCh != nil {
			q.mu.Unlock()
			return nil
		}
	}
	q.startLocked()
	q.mu.Unlock()
	return nil
}

func (q *Queue) startLocked() {
	q.started = true
	q.stopCh = make(chan struct{})
	q.wake = make(chan struct{}, q.cfg.Workers)
	q.workers = make([]*worker, q.cfg.Workers)
	for i := range q.workers {
		w := &worker{id: i}
		q.workers[i] = w
		q.wg.Add(1)
		go q.loop(q.stopCh, q.wake, w)
	}
	for i := 0; i < len(q.pending) && i < q.cfg.Workers; i++ {
		q.wakeLocked()
	}
	q.notifyLocked()
	q.log.Info("queue started", logx.Int("workers", q.cfg.Workers), logx.Int("pending", len(q.pending)))
}

// Stop halts future dispatch. Jobs already executing run to completion; Stop
// waits for them unless ctx ends first. Pending jobs stay queued until Start.
func (q *Queue) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.stopCh == nil {
		q.mu.Unlock()
		return
	}
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	q.stopDone = done
	close(q.stopCh)
	q.mu.Unlock()

	go func() {
		q.wg.Wait()
		q.mu.Lock()
		q.stopCh = nil
		q.stopDone = nil
		q.wake = nil
		q.notifyLocked()
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("queue stopped")
	case <-ctx.Done():
		q.log.Warn("queue stop timed out", logx.Err(ctx.Err()))
	}
}

// Running reports whether workers are dispatching.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopCh != nil && q.stopDone == nil
}

// Enqueue adds a job without blocking and returns its id (generated if empty).
func (q *Queue) Enqueue(job Job) (string, error) {
	if job.Run == nil {
		return "", ErrNilRun
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	qj := &queuedJob{job: job, enqueuedAt: q.clock.Now(), maxRetries: MaxRetries}

	q.mu.Lock()
	q.insertLocked(qj)
	q.stats.Enqueued++
	depth := len(q.pending)
	if !q.started {
		q.startLocked()
	} else {
		q.wakeLocked()
	}
	q.notifyLocked()
	q.mu.Unlock()

	q.obs.JobEnqueued(job.ID, job.Priority)
	q.obs.QueueDepth(depth)
	q.log.Debug("job.enqueued", logx.String("job", job.ID), logx.String("name", job.Name), logx.Int("priority", job.Priority), logx.Int("pending", depth))
	return job.ID, nil
}

// insertLocked places qj before the first job with a strictly greater priority.
func (q *Queue) insertLocked(qj *queuedJob) {
	idx := len(q.pending)
	for i, p := range q.pending {
		if p.job.Priority > qj.job.Priority {
			idx = i
			break
		}
	}
	q.pending = slices.Insert(q.pending, idx, qj)
}

// PrioritizeJob moves a pending job to the head with PriorityUrgent.
func (q *Queue) PrioritizeJob(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return false
	}
	qj := q.pending[idx]
	qj.job.Priority = PriorityUrgent
	q.pending = slices.Delete(q.pending, idx, idx+1)
	q.pending = slices.Insert(q.pending, 0, qj)
	q.notifyLocked()
	q.log.Debug("job.prioritized", logx.String("job", id))
	return true
}

// RemoveJob cancels a job that has not been dispatched yet, including one
// waiting out a retry backoff. It has no effect on a running job.
func (q *Queue) RemoveJob(id string) bool {
	q.mu.Lock()
	removed := false
	if idx := q.indexLocked(id); idx >= 0 {
		q.pending = slices.Delete(q.pending, idx, idx+1)
		removed = true
	} else {
		removed = q.delayed.cancel(id)
	}
	depth := len(q.pending)
	if removed {
		q.notifyLocked()
	}
	q.mu.Unlock()

	if removed {
		q.obs.QueueDepth(depth)
		q.log.Debug("job.removed", logx.String("job", id))
	}
	return removed
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.pending, func(qj *queuedJob) bool { return qj.job.ID == id })
}

// WaitForCompletion blocks until the pending list is empty and every worker is
// idle, or until timeout elapses. It reports whether the queue drained.
// Jobs waiting out a retry backoff are not pending and do not hold it open.
func (q *Queue) WaitForCompletion(timeout time.Duration) bool {
	timer := q.clock.Timer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		drained := q.drainedLocked()
		changed := q.changed
		q.mu.Unlock()
		if drained {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			q.mu.Lock()
			drained = q.drainedLocked()
			q.mu.Unlock()
			return drained
		}
	}
}

func (q *Queue) drainedLocked() bool {
	if len(q.pending) > 0 {
		return false
	}
	for _, w := range q.workers {
		if w.current != nil {
			return false
		}
	}
	return true
}

// Snapshot returns a point-in-time copy of the queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := Snapshot{
		Running:     q.stopCh != nil && q.stopDone == nil,
		Pending:     len(q.pending),
		Delayed:     q.delayed.len(),
		Stats:       q.stats,
		Workers:     q.workersLocked(),
		PendingJobs: make([]JobInfo, 0, len(q.pending)),
	}
	for _, qj := range q.pending {
		snap.PendingJobs = append(snap.PendingJobs, qj.info())
	}
	return snap
}

// Stats returns the lifetime counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) workersLocked() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(q.workers))
	for _, w := range q.workers {
		ws := WorkerStatus{ID: w.id, Idle: w.current == nil, Processed: w.processed}
		if w.current != nil {
			ws.CurrentJob = w.current.job.ID
			ws.StartedAt = w.current.startedAt
		}
		out = append(out, ws)
	}
	return out
}

func (q *Queue) wakeLocked() {
	if q.wake == nil {
		return
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
