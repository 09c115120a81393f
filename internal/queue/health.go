package queue

import (
	"fmt"
	"time"
)

// Health issue codes.
const (
	IssueStuckWorker     = "stuck_worker"
	IssueBacklog         = "queue_backlog"
	IssueHighFailureRate = "high_failure_rate"
	IssueSlowDispatch    = "slow_dispatch"
)

// HealthIssue is one failed check with a remediation hint.
type HealthIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Issues        []HealthIssue `json:"issues,omitempty"`
	Pending       int           `json:"pending"`
	ActiveWorkers int           `json:"active_workers"`
	Stats         Stats         `json:"stats"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// IsHealthy reports whether Health finds no issue.
func (q *Queue) IsHealthy() bool { return q.Health().Healthy }

// Health runs the diagnostic checks against the current state.
func (q *Queue) Health() HealthStatus {
	now := q.clock.Now()

	q.mu.Lock()
	cfg := q.cfg
	st := HealthStatus{Pending: len(q.pending), Stats: q.stats, CheckedAt: now}
	var stuck []string
	for _, w := range q.workers {
		if w.current == nil {
			continue
		}
		st.ActiveWorkers++
		if now.Sub(w.current.startedAt) > cfg.StuckAfter {
			stuck = append(stuck, fmt.Sprintf("worker %d (job %s)", w.id, w.current.job.ID))
		}
	}
	q.mu.Unlock()

	for _, s := range stuck {
		st.Issues = append(st.Issues, HealthIssue{
			Code:    IssueStuckWorker,
			Message: fmt.Sprintf("%s running longer than %s", s, cfg.StuckAfter),
			Hint:    "check the source behind the job for hanging connections; set a job timeout",
		})
	}
	if st.Pending > cfg.MaxPending {
		st.Issues = append(st.Issues, HealthIssue{
			Code:    IssueBacklog,
			Message: fmt.Sprintf("%d jobs pending (threshold %d)", st.Pending, cfg.MaxPending),
			Hint:    "increase worker count or reduce collection frequency",
		})
	}
	if total := st.Stats.Processed + st.Stats.Failed; total > 0 {
		ratio := float64(st.Stats.Failed) / float64(total)
		if ratio > cfg.MaxFailureRatio {
			st.Issues = append(st.Issues, HealthIssue{
				Code:    IssueHighFailureRate,
				Message: fmt.Sprintf("%.1f%% of jobs failed permanently", ratio*100),
				Hint:    "review source reliability and disable sources that keep failing",
			})
		}
	}
	if st.Stats.AvgWait > cfg.MaxAvgWait {
		st.Issues = append(st.Issues, HealthIssue{
			Code:    IssueSlowDispatch,
			Message: fmt.Sprintf("average wait %s exceeds %s", st.Stats.AvgWait.Round(time.Second), cfg.MaxAvgWait),
			Hint:    "workers cannot keep up; add workers or spread enqueues over time",
		})
	}

	st.Healthy = len(st.Issues) == 0
	return st
}
