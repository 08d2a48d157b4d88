package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used across the application.
// A nil *Metrics is valid and turns every recording call into a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ItemsCollected  *prometheus.CounterVec
	ItemsSummarized *prometheus.CounterVec
	MessagesSent    *prometheus.CounterVec
	BreakingAlerts  prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// New registers all instruments with a private registry.
// A custom registry (instead of prometheus.DefaultRegisterer) keeps tests
// isolated and avoids global state.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ItemsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseagent_items_collected_total",
			Help: "Candidate items pulled from collectors, by source type.",
		}, []string{"source"}),

		ItemsSummarized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseagent_items_summarized_total",
			Help: "Items summarized, by outcome (llm or fallback).",
		}, []string{"outcome"}),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseagent_messages_delivered_total",
			Help: "Messages delivered to chat, by kind.",
		}, []string{"kind"}),

		BreakingAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulseagent_breaking_alerts_total",
			Help: "Breaking items fast-pathed to immediate delivery.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulseagent_digest_queue_depth",
			Help: "Unsent entries currently in the digest queue.",
		}),
	}

	reg.MustRegister(
		m.ItemsCollected,
		m.ItemsSummarized,
		m.MessagesSent,
		m.BreakingAlerts,
		m.QueueDepth,
	)

	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCollected adds to the per-source collection counter.
func (m *Metrics) RecordCollected(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ItemsCollected.WithLabelValues(source).Add(float64(n))
}

// RecordSent increments the delivery counter for one message kind.
func (m *Metrics) RecordSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// RecordBreaking increments the breaking fast-path counter.
func (m *Metrics) RecordBreaking() {
	if m == nil {
		return
	}
	m.BreakingAlerts.Inc()
}

// SetQueueDepth updates the digest queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
