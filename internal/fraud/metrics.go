package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's Prometheus instrumentation. A nil *Metrics is
// valid and records nothing, so tests can run without a registry.
type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	ScoreUpdates     prometheus.Counter
	AutoRestrictions prometheus.Counter
	AlertsCreated    prometheus.Counter
	AlertsMerged     prometheus.Counter
	AlertsSuppressed prometheus.Counter
	SweepDuration    prometheus.Histogram
	SweepPairs       prometheus.Counter
}

// NewMetrics registers the engine metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_events_ingested_total",
			Help: "Domain events folded into the fraud engine, by type.",
		}, []string{"event_type"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_events_rejected_total",
			Help: "Domain events rejected at the validation boundary, by type.",
		}, []string{"event_type"}),
		ScoreUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_updates_total",
			Help: "Suspicion score updates applied.",
		}),
		AutoRestrictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_auto_restrictions_total",
			Help: "Auto-restriction side effects triggered by threshold crossings.",
		}),
		AlertsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_alerts_created_total",
			Help: "New fraud alerts created.",
		}),
		AlertsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_alerts_merged_total",
			Help: "Detections merged into an existing active alert.",
		}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_alerts_suppressed_total",
			Help: "Detections suppressed by a prior dismissed/resolved alert.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_sweep_duration_seconds",
			Help:    "Duration of similarity sweep runs.",
			Buckets: prometheus.DefBuckets,
		}),
		SweepPairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_sweep_pairs_total",
			Help: "Profile pairs compared by the similarity sweep.",
		}),
	}
}

func (m *Metrics) IncEventIngested(eventType string) {
	if m != nil {
		m.EventsIngested.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncEventRejected(eventType string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncScoreUpdate() {
	if m != nil {
		m.ScoreUpdates.Inc()
	}
}

func (m *Metrics) IncAutoRestriction() {
	if m != nil {
		m.AutoRestrictions.Inc()
	}
}

func (m *Metrics) IncAlertCreated() {
	if m != nil {
		m.AlertsCreated.Inc()
	}
}

func (m *Metrics) IncAlertMerged() {
	if m != nil {
		m.AlertsMerged.Inc()
	}
}

func (m *Metrics) IncAlertSuppressed() {
	if m != nil {
		m.AlertsSuppressed.Inc()
	}
}

func (m *Metrics) ObserveSweepDuration(seconds float64) {
	if m != nil {
		m.SweepDuration.Observe(seconds)
	}
}

func (m *Metrics) AddSweepPairs(n int) {
	if m != nil {
		m.SweepPairs.Add(float64(n))
	}
}
