// Package observe defines the emissions the queue and the registry produce.
//
// Components receive an Observer at construction and never log metrics
// themselves; the harvester process decides where they go (event bus,
// Prometheus, both or nowhere).
package observe

import "time"

// Observer receives counters and gauges from the queue and the registry.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	JobEnqueued(id string, priority int)
	JobCompleted(id string, wait, processing time.Duration)
	JobRetryScheduled(id string, retry int, delay time.Duration)
	JobFailed(id string, attempts int)
	QueueDepth(n int)

	SourceCount(n int)
	SourceAttempt(id string, success bool, reliability, successRate float64)
	MeanReliability(v float64)
	SourceValidated(id string, valid bool, confidence float64)
	SourceRemoved(id string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) JobEnqueued(string, int)                           {}
func (Nop) JobCompleted(string, time.Duration, time.Duration) {}
func (Nop) JobRetryScheduled(string, int, time.Duration)      {}
func (Nop) JobFailed(string, int)                             {}
func (Nop) QueueDepth(int)                                    {}
func (Nop) SourceCount(int)                                   {}
func (Nop) SourceAttempt(string, bool, float64, float64)      {}
func (Nop) MeanReliability(float64)                           {}
func (Nop) SourceValidated(string, bool, float64)             {}
func (Nop) SourceRemoved(string)                              {}

// Multi fans out to several observers in order.
type Multi []Observer

func (m Multi) JobEnqueued(id string, priority int) {
	for _, o := range m {
		o.JobEnqueued(id, priority)
	}
}

func (m Multi) JobCompleted(id string, wait, processing time.Duration) {
	for _, o := range m {
		o.JobCompleted(id, wait, processing)
	}
}

func (m Multi) JobRetryScheduled(id string, retry int, delay time.Duration) {
	for _, o := range m {
		o.JobRetryScheduled(id, retry, delay)
	}
}

func (m Multi) JobFailed(id string, attempts int) {
	for _, o := range m {
		o.JobFailed(id, attempts)
	}
}

func (m Multi) QueueDepth(n int) {
	for _, o := range m {
		o.QueueDepth(n)
	}
}

func (m Multi) SourceCount(n int) {
	for _, o := range m {
		o.SourceCount(n)
	}
}

func (m Multi) SourceAttempt(id string, success bool, reliability, successRate float64) {
	for _, o := range m {
		o.SourceAttempt(id, success, reliability, successRate)
	}
}

func (m Multi) MeanReliability(v float64) {
	for _, o := range m {
		o.MeanReliability(v)
	}
}

func (m Multi) SourceValidated(id string, valid bool, confidence float64) {
	for _, o := range m {
		o.SourceValidated(id, valid, confidence)
	}
}

func (m Multi) SourceRemoved(id string) {
	for _, o := range m {
		o.SourceRemoved(id)
	}
}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return o
}
