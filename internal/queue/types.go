package queue

import (
	"context"
	"time"
)

// Priorities used by the collector. Any int is accepted; lower dispatches first.
const (
	PriorityUrgent = 0
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// MaxRetries is the fixed number of retries after the first attempt.
const MaxRetries = 3

// Config controls the queue.
//
// Zero values fall back to the defaults noted on each field.
type Config struct {
	// Workers is the fixed pool size. Default 3.
	Workers int

	// JobTimeout bounds a single attempt. 0 disables it (the default);
	// a running attempt is never preempted otherwise.
	JobTimeout time.Duration

	// Retry backoff: min(BackoffBase * 2^(retries-1), BackoffMax).
	BackoffBase time.Duration // default 1s
	BackoffMax  time.Duration // default 30s

	// Health thresholds.
	StuckAfter      time.Duration // default 30m
	MaxPending      int           // default 50
	MaxFailureRatio float64       // default 0.10
	MaxAvgWait      time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.JobTimeout < 0 {
		c.JobTimeout = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 50
	}
	if c.MaxFailureRatio <= 0 {
		c.MaxFailureRatio = 0.10
	}
	if c.MaxAvgWait <= 0 {
		c.MaxAvgWait = 5 * time.Minute
	}
	return c
}

// Job is a unit of work handed to the queue.
//
// Run is opaque to the queue: whatever it fetches or parses is captured by the
// closure. OnDone, if set, is called once the job reaches a terminal state
// (completed or permanently failed); it runs on the worker goroutine.
type Job struct {
	ID       string
	Name     string
	Priority int
	Run      func(ctx context.Context) error
	OnDone   func(Result)
}

// Result describes a job's terminal state.
type Result struct {
	JobID      string
	Name       string
	Attempts   int
	Err        error // nil when completed
	Wait       time.Duration
	Processing time.Duration
}

// queuedJob is the queue's private record for a Job.
type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	startedAt  time.Time
	retries    int
	maxRetries int
}

// JobInfo is a read-only view of a pending job.
type JobInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`
}

// WorkerStatus is a read-only view of one worker lane.
type WorkerStatus struct {
	ID         int       `json:"id"`
	Idle       bool      `json:"idle"`
	CurrentJob string    `json:"current_job,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Processed  uint64    `json:"processed"`
}

// Stats are lifetime counters and running averages.
type Stats struct {
	Enqueued      uint64        `json:"enqueued"`
	Processed     uint64        `json:"processed"`
	Failed        uint64        `json:"failed"`
	Retried       uint64        `json:"retried"`
	AvgWait       time.Duration `json:"avg_wait"`
	AvgProcessing time.Duration `json:"avg_processing"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running     bool           `json:"running"`
	Pending     int            `json:"pending"`
	Delayed     int            `json:"delayed"`
	Workers     []WorkerStatus `json:"workers"`
	Stats       Stats          `json:"stats"`
	PendingJobs []JobInfo      `json:"pending_jobs"`
}

func (qj *queuedJob) info() JobInfo {
	return JobInfo{
		ID:         qj.job.ID,
		Name:       qj.job.Name,
		Priority:   qj.job.Priority,
		EnqueuedAt: qj.enqueuedAt,
		Retries:    qj.retries,
	}
}
