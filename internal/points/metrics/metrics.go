package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the points module.
// Tracks submissions, finalization outcomes and finalize duration.
type Metrics struct {
	AllocationsSubmitted   prometheus.Counter
	DistributionsFinalized prometheus.Counter
	FinalizeRejected       *prometheus.CounterVec
	FinalizeDuration       prometheus.Histogram
	SubmitDuration         prometheus.Histogram
	EventsFailed           prometheus.Counter
}

// New registers the points metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AllocationsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointdist_allocations_submitted_total",
			Help: "Total number of allocations written to provisional distributions",
		}),
		DistributionsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointdist_distributions_finalized_total",
			Help: "Total number of distributions locked and archived",
		}),
		FinalizeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointdist_finalize_rejected_total",
			Help: "Finalization attempts rejected, by error code",
		}, []string{"code"}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointdist_finalize_duration_seconds",
			Help:    "Duration of Finalize operations (evaluate, flip and archive)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointdist_submit_duration_seconds",
			Help:    "Duration of Submit operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointdist_events_publish_failed_total",
			Help: "Distribution events that could not be published",
		}),
	}
}

// AddAllocations records n allocations written by one submission.
func (m *Metrics) AddAllocations(n int) {
	m.AllocationsSubmitted.Add(float64(n))
}

// IncrementFinalized records a successful finalization.
func (m *Metrics) IncrementFinalized() {
	m.DistributionsFinalized.Inc()
}

// IncrementRejected records a rejected finalization with its error code.
func (m *Metrics) IncrementRejected(code string) {
	m.FinalizeRejected.WithLabelValues(code).Inc()
}

// ObserveFinalize records the duration of a Finalize operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveFinalize(start time.Time) {
	m.FinalizeDuration.Observe(time.Since(start).Seconds())
}

// ObserveSubmit records the duration of a Submit operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementEventsFailed() {
	m.EventsFailed.Inc()
}
