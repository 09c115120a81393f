package registry

import (
	"math"
	"slices"

	logx "eventharvest/pkg/logx"
)

// Adaptive reliability controller over the most recent attempts.
const (
	controlWindow = 10

	degradeBelow = 0.3
	degradeFloor = 0.2 // no decrease at or below this
	degradeStep  = 0.1

	promoteAbove   = 0.8
	promoteCeiling = 0.9 // no increase at or above this
	promoteStep    = 0.05
)

// RecordFetchAttempt appends a fetch outcome to the source history and
// adjusts its reliability. Unknown ids are logged and ignored.
//
// Attempts for one source should be recorded in order; the controller looks
// at the last few attempts and is not commutative.
func (r *Registry) RecordFetchAttempt(id string, a FetchAttempt) {
	if a.Timestamp.IsZero() {
		a.Timestamp = r.clock.Now()
	}

	r.mu.Lock()
	s, ok := r.sources[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("attempt for unknown source", logx.String("source", id))
		return
	}
	s.FetchHistory = trimHistory(append(s.FetchHistory, a))
	s.SuccessRate = successRate(s.FetchHistory)
	ts := a.Timestamp
	s.LastChecked = &ts
	before := s.Reliability
	s.Reliability = adjustReliability(s.Reliability, s.FetchHistory)
	s.UpdatedAt = r.clock.Now()
	rel, rate := s.Reliability, s.SuccessRate
	mean := r.meanReliabilityLocked()
	r.mu.Unlock()

	r.obs.SourceAttempt(id, a.Success, rel, rate)
	r.obs.MeanReliability(mean)
	if rel != before {
		r.log.Info("source reliability changed", logx.String("source", id), logx.Float64("from", before), logx.Float64("to", rel), logx.Float64("success_rate", rate))
	}
}

// trimHistory keeps the most recent MaxHistory attempts.
func trimHistory(h []FetchAttempt) []FetchAttempt {
	if over := len(h) - MaxHistory; over > 0 {
		return slices.Delete(h, 0, over)
	}
	return h
}

func successRate(h []FetchAttempt) float64 {
	if len(h) == 0 {
		return 0
	}
	ok := 0
	for _, a := range h {
		if a.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(h))
}

// adjustReliability moves rel by at most one step based on the success rate
// of the last controlWindow attempts. It only engages once the history holds
// more than a full window, so a handful of early results cannot swing trust.
func adjustReliability(rel float64, h []FetchAttempt) float64 {
	if len(h) <= controlWindow {
		return rel
	}
	rate := successRate(h[len(h)-controlWindow:])
	switch {
	case rate < degradeBelow && rel > degradeFloor:
		rel -= degradeStep
	case rate > promoteAbove && rel < promoteCeiling:
		rel += promoteStep
	default:
		return rel
	}
	// Strip float noise only; imported values keep their precision.
	return clampReliability(math.Round(rel*1e9) / 1e9)
}

func clampReliability(v float64) float64 {
	return math.Max(MinReliability, math.Min(MaxReliability, v))
}
