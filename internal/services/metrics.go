package services

import (
	"errors"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the routing engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session store metrics
	Mutations     *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	Exhausted     prometheus.Counter
	StoreDegraded prometheus.Gauge
	SessionsSwept *prometheus.CounterVec

	// Routing metrics
	InboundMessages *prometheus.CounterVec
	Disambiguations *prometheus.CounterVec
	AgentLatency    prometheus.Histogram
	AgentErrors     prometheus.Counter
	Escalations     prometheus.Counter
}

// NewMetrics registers the engine metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Accepted CAS writes by resulting status
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efka_session_mutations_total",
			Help: "Total number of accepted session mutations by resulting status",
		}, []string{"status"}),

		// Failed attempts inside the retry loop
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efka_session_update_retries_total",
			Help: "Total number of retried session updates by cause",
		}, []string{"cause"}), // cause: "conflict" or "timeout"

		Exhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "efka_session_update_exhausted_total",
			Help: "Total number of session updates that ran out of retries",
		}),

		StoreDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "efka_session_store_degraded",
			Help: "1 while sessions are served from the in-process fallback store",
		}),

		SessionsSwept: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efka_sessions_swept_total",
			Help: "Total number of sessions handled by the TTL sweep",
		}, []string{"action"}), // action: "expired" or "retired"

		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efka_inbound_messages_total",
			Help: "Total number of inbound messages by channel and classification",
		}, []string{"channel", "kind"}),

		Disambiguations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efka_disambiguations_total",
			Help: "Total number of disambiguated replies by deciding rule",
		}, []string{"reason"}),

		// Agent latency histogram, up to 2 minutes for slow LLM responses
		AgentLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "efka_agent_request_duration_seconds",
			Help:    "Agent request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		AgentErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "efka_agent_errors_total",
			Help: "Total number of failed agent requests",
		}),

		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "efka_escalations_total",
			Help: "Total number of questions escalated to an expert",
		}),
	}
}

// RecordMutation records an accepted write
func (m *Metrics) RecordMutation(status models.SessionStatus) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(string(status)).Inc()
}

// RecordRetry records a failed attempt that will be retried
func (m *Metrics) RecordRetry(err error) {
	if m == nil {
		return
	}
	cause := "timeout"
	if errors.Is(err, models.ErrVersionConflict) {
		cause = "conflict"
	}
	m.Retries.WithLabelValues(cause).Inc()
}

// RecordExhausted records an update that gave up
func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.Exhausted.Inc()
}

// SetStoreDegraded mirrors the fallback store mode
func (m *Metrics) SetStoreDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.StoreDegraded.Set(1)
		return
	}
	m.StoreDegraded.Set(0)
}

// RecordSweep records sessions handled by one sweep pass
func (m *Metrics) RecordSweep(expired, retired int) {
	if m == nil {
		return
	}
	m.SessionsSwept.WithLabelValues("expired").Add(float64(expired))
	m.SessionsSwept.WithLabelValues("retired").Add(float64(retired))
}

// RecordInbound records a routed inbound message
func (m *Metrics) RecordInbound(channel models.Channel, kind RouteKind) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(string(channel), string(kind)).Inc()
}

// RecordDisambiguation records which rule picked a session
func (m *Metrics) RecordDisambiguation(reason MatchReason) {
	if m == nil {
		return
	}
	m.Disambiguations.WithLabelValues(string(reason)).Inc()
}

// RecordAgentLatency records agent latency
func (m *Metrics) RecordAgentLatency(seconds float64) {
	if m == nil {
		return
	}
	m.AgentLatency.Observe(seconds)
}

// RecordAgentError records an agent failure
func (m *Metrics) RecordAgentError() {
	if m == nil {
		return
	}
	m.AgentErrors.Inc()
}

// RecordEscalation records a hand-off to an expert
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}
