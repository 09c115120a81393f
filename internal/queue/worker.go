package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "eventharvest/pkg/logx"
)

func (q *Queue) loop(stopCh <-chan struct{}, wake <-chan struct{}, w *worker) {
	defer q.wg.Done()
	for {
		qj, stop := q.take(stopCh, w)
		if stop {
			return
		}
		if qj == nil {
			select {
			case <-stopCh:
				return
			case <-wake:
			}
			continue
		}
		q.execute(w, qj)
	}
}

// take pops the head of the pending list and assigns it to w.
// The stop check happens under the lock so nothing is dispatched after Stop.
func (q *Queue) take(stopCh <-chan struct{}, w *worker) (*queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-stopCh:
		return nil, true
	default:
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	qj := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	qj.startedAt = q.clock.Now()
	w.current = qj
	q.notifyLocked()
	return qj, false
}

func (q *Queue) execute(w *worker, qj *queuedJob) {
	id := qj.job.ID
	wait := qj.startedAt.Sub(qj.enqueuedAt)
	if wait < 0 {
		wait = 0
	}
	q.log.Debug("job.started", logx.String("job", id), logx.String("name", qj.job.Name), logx.Int("worker", w.id), logx.Duration("wait", wait), logx.Int("retries", qj.retries))

	err := q.run(qj)

	processing := q.clock.Since(qj.startedAt)
	attempts := qj.retries + 1

	var (
		terminal bool
		delay    time.Duration
		retry    int
	)

	q.mu.Lock()
	w.current = nil
	w.processed++
	switch {
	case err == nil:
		q.stats.Processed++
		n := time.Duration(q.stats.Processed)
		q.stats.AvgWait += (wait - q.stats.AvgWait) / n
		q.stats.AvgProcessing += (processing - q.stats.AvgProcessing) / n
		terminal = true
	case IsNoRetry(err) || qj.retries >= qj.maxRetries:
		q.stats.Failed++
		terminal = true
	default:
		// The worker is released now; the timer re-inserts the job later.
		qj.retries++
		q.stats.Retried++
		retry = qj.retries
		delay = backoffDelay(q.cfg, retry)
		q.delayed.schedule(qj, delay, func() { q.requeue(qj) })
	}
	depth := len(q.pending)
	q.notifyLocked()
	q.mu.Unlock()

	q.obs.QueueDepth(depth)
	switch {
	case err == nil:
		q.obs.JobCompleted(id, wait, processing)
		if processing >= 750*time.Millisecond {
			q.log.Info("job.completed", logx.String("job", id), logx.String("name", qj.job.Name), logx.Duration("wait", wait), logx.Duration("dur", processing), logx.Int("attempts", attempts))
		} else {
			q.log.Debug("job.completed", logx.String("job", id), logx.String("name", qj.job.Name), logx.Duration("wait", wait), logx.Duration("dur", processing), logx.Int("attempts", attempts))
		}
	case terminal:
		q.obs.JobFailed(id, attempts)
		q.log.Warn("job.failed", logx.String("job", id), logx.String("name", qj.job.Name), logx.Err(err), logx.Int("attempts", attempts))
	default:
		q.obs.JobRetryScheduled(id, retry, delay)
		q.log.Debug("job retry scheduled", logx.String("job", id), logx.Int("retry", retry), logx.Duration("delay", delay), logx.Err(err))
	}

	if terminal && qj.job.OnDone != nil {
		qj.job.OnDone(Result{
			JobID:      id,
			Name:       qj.job.Name,
			Attempts:   attempts,
			Err:        err,
			Wait:       wait,
			Processing: processing,
		})
	}
}

// run invokes the unit of work, converting a panic into an error so one bad
// job cannot kill its worker.
func (q *Queue) run(qj *queuedJob) (err error) {
	ctx := context.Background()
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = q.clock.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			q.log.Error("job.panic", logx.String("job", qj.job.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qj.job.Run(ctx)
}

// requeue puts a job whose backoff elapsed back at the head of the list.
func (q *Queue) requeue(qj *queuedJob) {
	q.mu.Lock()
	if !q.delayed.take(qj) {
		// Removed while waiting.
		q.mu.Unlock()
		return
	}
	qj.enqueuedAt = q.clock.Now()
	q.pending = slices.Insert(q.pending, 0, qj)
	depth := len(q.pending)
	retry := qj.retries
	q.wakeLocked()
	q.notifyLocked()
	q.mu.Unlock()

	q.obs.QueueDepth(depth)
	q.log.Debug("job.requeued", logx.String("job", qj.job.ID), logx.Int("retry", retry), logx.Int("pending", depth))
}

// backoffDelay returns min(BackoffBase * 2^(retry-1), BackoffMax) for retry >= 1.
func backoffDelay(cfg Config, retry int) time.Duration {
	d := cfg.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	if d > cfg.BackoffMax {
		d = cfg.BackoffMax
	}
	return d
}
