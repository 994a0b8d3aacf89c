// Package metrics exposes the watcher's Prometheus series. All methods are
// safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spachava753/repowatch/internal/models"
)

const namespace = "repowatch"

// Cycle outcomes recorded by CycleCompleted.
const (
	OutcomeNoChange      = "no_change"
	OutcomeTriggered     = "triggered"
	OutcomeTriggerFailed = "trigger_failed"
	OutcomeDetectFailed  = "detection_failed"
	OutcomeCancelled     = "cancelled"
	OutcomePanic         = "panic"
)

// Metrics holds the collectors for all watchers in the process.
type Metrics struct {
	cycles          *prometheus.CounterVec
	detectionErrors *prometheus.CounterVec
	pipelineRuns    *prometheus.CounterVec
	pipelineSeconds *prometheus.HistogramVec
	lockWait        prometheus.Histogram
	lockTimeouts    *prometheus.CounterVec
	lastChange      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total of completed watch cycles by outcome.",
			},
			[]string{"repository", "outcome"},
		),
		detectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detection_errors_total",
				Help:      "Total of failed upstream queries.",
			},
			[]string{"repository", "kind"},
		),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total of pipeline triggers by event kind and result.",
			},
			[]string{"repository", "kind", "result"},
		),
		pipelineSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline runs.",
				Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"repository"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the shared pipeline lock.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		lockTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Total of pipeline lock acquisitions that timed out.",
			},
			[]string{"repository"},
		),
		lastChange: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_change_timestamp_seconds",
				Help:      "Unix time of the last change that triggered a successful pipeline run.",
			},
			[]string{"repository", "kind"},
		),
	}

	reg.MustRegister(
		m.cycles,
		m.detectionErrors,
		m.pipelineRuns,
		m.pipelineSeconds,
		m.lockWait,
		m.lockTimeouts,
		m.lastChange,
	)
	return m
}

// Handler serves the series gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// CycleCompleted records one finished watch cycle.
func (m *Metrics) CycleCompleted(repository, outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(repository, outcome).Inc()
}

// DetectionFailed records a failed release or commit query.
func (m *Metrics) DetectionFailed(repository string, kind models.EventKind) {
	if m == nil {
		return
	}
	m.detectionErrors.WithLabelValues(repository, string(kind)).Inc()
}

// LockWaited records how long a trigger waited for the lock, and whether it
// gave up.
func (m *Metrics) LockWaited(repository string, wait time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.lockWait.Observe(wait.Seconds())
	if timedOut {
		m.lockTimeouts.WithLabelValues(repository).Inc()
	}
}

// PipelineFinished records one pipeline run.
func (m *Metrics) PipelineFinished(repository string, kind models.EventKind, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
		m.lastChange.WithLabelValues(repository, string(kind)).SetToCurrentTime()
	}
	m.pipelineRuns.WithLabelValues(repository, string(kind), result).Inc()
	m.pipelineSeconds.WithLabelValues(repository).Observe(duration.Seconds())
}
