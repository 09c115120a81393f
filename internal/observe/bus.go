package observe

import (
	"time"

	"eventharvest/internal/eventbus"
)

// JobEvent is the payload of job.* events.
type JobEvent struct {
	ID         string        `json:"id"`
	Priority   int           `json:"priority,omitempty"`
	Retry      int           `json:"retry,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Wait       time.Duration `json:"wait,omitempty"`
	Processing time.Duration `json:"processing,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
}

// SourceEvent is the payload of source.* events.
type SourceEvent struct {
	ID          string  `json:"id"`
	Success     bool    `json:"success"`
	Reliability float64 `json:"reliability,omitempty"`
	SuccessRate float64 `json:"success_rate,omitempty"`
	Valid       bool    `json:"valid,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// BusObserver republishes lifecycle emissions on an event bus.
// Pure gauges (queue depth, mean reliability, source count) are not published.
type BusObserver struct {
	Bus eventbus.Bus
}

func (o BusObserver) publish(typ string, data any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (o BusObserver) JobEnqueued(id string, priority int) {
	o.publish(eventbus.TypeJobEnqueued, JobEvent{ID: id, Priority: priority})
}

func (o BusObserver) JobCompleted(id string, wait, processing time.Duration) {
	o.publish(eventbus.TypeJobCompleted, JobEvent{ID: id, Wait: wait, Processing: processing})
}

func (o BusObserver) JobRetryScheduled(id string, retry int, delay time.Duration) {
	o.publish(eventbus.TypeJobRetryScheduled, JobEvent{ID: id, Retry: retry, Delay: delay})
}

func (o BusObserver) JobFailed(id string, attempts int) {
	o.publish(eventbus.TypeJobFailed, JobEvent{ID: id, Attempts: attempts})
}

func (BusObserver) QueueDepth(int)          {}
func (BusObserver) SourceCount(int)         {}
func (BusObserver) MeanReliability(float64) {}

func (o BusObserver) SourceAttempt(id string, success bool, reliability, successRate float64) {
	o.publish(eventbus.TypeSourceAttempt, SourceEvent{ID: id, Success: success, Reliability: reliability, SuccessRate: successRate})
}

func (o BusObserver) SourceValidated(id string, valid bool, confidence float64) {
	o.publish(eventbus.TypeSourceValidated, SourceEvent{ID: id, Success: valid, Valid: valid, Confidence: confidence})
}

func (o BusObserver) SourceRemoved(id string) {
	o.publish(eventbus.TypeSourceRemoved, SourceEvent{ID: id})
}
