// Package metrics collects pipeline counters in a private Prometheus registry.
// A run exports them once, in text exposition format, when it finishes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/copyleftdev/paramgen/internal/errors"
)

const namespace = "paramgen"

// OutcomeOK labels a run that finished without error.
const OutcomeOK = "ok"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	rowsLoaded          prometheus.Counter
	trialsReplayed      prometheus.Counter
	candidatesRequested prometheus.Counter
	candidatesReturned  prometheus.Counter
	suggestDuration     prometheus.Histogram
	runs                *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_rows_loaded_total",
			Help:      "Historical rows read from the data file.",
		}),
		trialsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_replayed_total",
			Help:      "Historical rows replayed into the engine as completed trials.",
		}),
		candidatesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_requested_total",
			Help:      "Candidates requested from the engine.",
		}),
		candidatesReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_returned_total",
			Help:      "Candidates the engine actually returned.",
		}),
		suggestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "suggest_duration_seconds",
			Help:      "Time spent in one suggestion call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome (ok or error kind).",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.rowsLoaded,
		m.trialsReplayed,
		m.candidatesRequested,
		m.candidatesReturned,
		m.suggestDuration,
		m.runs,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RowsLoaded counts history rows.
func (m *Metrics) RowsLoaded(n int) {
	if m == nil {
		return
	}
	m.rowsLoaded.Add(float64(n))
}

// TrialReplayed counts one replayed trial.
func (m *Metrics) TrialReplayed() {
	if m == nil {
		return
	}
	m.trialsReplayed.Inc()
}

// Suggested records one suggestion call.
func (m *Metrics) Suggested(requested, returned int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.candidatesRequested.Add(float64(requested))
	m.candidatesReturned.Add(float64(returned))
	m.suggestDuration.Observe(elapsed.Seconds())
}

// RunFinished records the outcome of a run, labelled by error kind.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = string(errors.KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// WriteToTextfile writes every metric to path in text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(errors.KindIO, err, "failed to write metrics").
			WithComponent("metrics").WithOperation("WriteToTextfile")
	}
	return nil
}
