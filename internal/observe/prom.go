package observe

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventharvest"

// Prom exports emissions as Prometheus metrics.
type Prom struct {
	jobsEnqueued  prometheus.Counter
	jobsProcessed prometheus.Counter
	jobsRetried   prometheus.Counter
	jobsFailed    prometheus.Counter
	jobWait       prometheus.Histogram
	jobProcessing prometheus.Histogram
	queueDepth    prometheus.Gauge

	sources         prometheus.Gauge
	meanReliability prometheus.Gauge
	attempts        *prometheus.CounterVec
	reliability     *prometheus.GaugeVec
	successRate     *prometheus.GaugeVec
	validations     *prometheus.CounterVec
}

// NewProm creates the collectors and registers them on reg.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_enqueued_total",
			Help: "Total number of jobs handed to the queue.",
		}),
		jobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_processed_total",
			Help: "Total number of jobs that completed successfully.",
		}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_retried_total",
			Help: "Total number of retries scheduled after a failed attempt.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Total number of jobs dropped after exhausting retries.",
		}),
		jobWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_wait_seconds",
			Help:    "Time between enqueue and start of the successful attempt.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		jobProcessing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_processing_seconds",
			Help:    "Duration of the successful attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Number of pending jobs.",
		}),
		sources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sources",
			Help: "Number of sources in the catalog.",
		}),
		meanReliability: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sources_mean_reliability",
			Help: "Mean reliability score across the catalog.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_attempts_total",
			Help: "Fetch attempts reported back to the registry.",
		}, []string{"success"}),
		reliability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_reliability",
			Help: "Reliability score per source.",
		}, []string{"source"}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_success_rate",
			Help: "Success rate over the retained fetch history per source.",
		}, []string{"source"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_validations_total",
			Help: "Validation probes by outcome.",
		}, []string{"valid"}),
	}

	for _, c := range []prometheus.Collector{
		p.jobsEnqueued, p.jobsProcessed, p.jobsRetried, p.jobsFailed,
		p.jobWait, p.jobProcessing, p.queueDepth,
		p.sources, p.meanReliability, p.attempts, p.reliability, p.successRate, p.validations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) JobEnqueued(string, int) { p.jobsEnqueued.Inc() }

func (p *Prom) JobCompleted(_ string, wait, processing time.Duration) {
	p.jobsProcessed.Inc()
	p.jobWait.Observe(wait.Seconds())
	p.jobProcessing.Observe(processing.Seconds())
}

func (p *Prom) JobRetryScheduled(string, int, time.Duration) { p.jobsRetried.Inc() }
func (p *Prom) JobFailed(string, int)                        { p.jobsFailed.Inc() }
func (p *Prom) QueueDepth(n int)                             { p.queueDepth.Set(float64(n)) }
func (p *Prom) SourceCount(n int)                            { p.sources.Set(float64(n)) }
func (p *Prom) MeanReliability(v float64)                    { p.meanReliability.Set(v) }

func (p *Prom) SourceAttempt(id string, success bool, reliability, successRate float64) {
	p.attempts.WithLabelValues(strconv.FormatBool(success)).Inc()
	p.reliability.WithLabelValues(id).Set(reliability)
	p.successRate.WithLabelValues(id).Set(successRate)
}

func (p *Prom) SourceValidated(_ string, valid bool, _ float64) {
	p.validations.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// SourceRemoved drops the per-source series.
func (p *Prom) SourceRemoved(id string) {
	p.reliability.DeleteLabelValues(id)
	p.successRate.DeleteLabelValues(id)
}
