// Package observability provides the metrics collector (§4.10): a
// correlation-id-keyed per-turn latency tracker mirrored into Prometheus
// instruments, in the teacher's promauto idiom.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments and the bounded turn-record
// ring the admin JSON endpoint reads from.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	TurnStageLatency *prometheus.HistogramVec
	TurnsTotal       *prometheus.CounterVec

	tracker *requestTracker
}

// NewMetrics builds a Metrics instance with a ring of the most recent
// ringCapacity turn records (default 1000, per §4.10).
func NewMetrics(namespace string, ringCapacity int) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write errors by reason.",
		}, []string{"reason"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound orchestrator messages by type and delivery result.",
		}, []string{"type", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider type and name.",
		}, []string{"provider_type", "name"}),
		TurnStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn-stage latency in milliseconds.",
			Buckets:   []float64{20, 50, 100, 150, 250, 400, 700, 1200, 2000, 4000, 7000, 10000},
		}, []string{"stage"}),
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		tracker: newRequestTracker(ringCapacity),
	}
}

// StartRequest begins tracking a turn identified by correlationID.
func (m *Metrics) StartRequest(correlationID, sessionID, userID string) {
	m.tracker.StartRequest(correlationID, sessionID, userID)
}

// StartStage marks the start of a named stage (stt/llm/tts/search) for
// an in-flight turn.
func (m *Metrics) StartStage(correlationID, stage string) {
	m.tracker.StartStage(correlationID, stage)
}

// EndStage closes a stage, recording its elapsed time into both the
// ring and the Prometheus histogram.
func (m *Metrics) EndStage(correlationID, stage string) {
	ms, ok := m.tracker.EndStage(correlationID, stage)
	if !ok {
		return
	}
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
}

// EndRequest finalizes a turn: total latency is derived from the time
// since StartRequest, the record is appended to the ring, and outcome
// counters are incremented.
func (m *Metrics) EndRequest(correlationID string, success bool, errKind string, usedSearch bool) {
	m.tracker.EndRequest(correlationID, success, errKind, usedSearch)

	outcome := "success"
	switch {
	case errKind == "interrupted":
		outcome = "interrupted"
	case !success:
		outcome = "error"
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// Discard drops an in-flight turn (the empty-transcript case) without
// touching counters or the ring.
func (m *Metrics) Discard(correlationID string) {
	m.tracker.Discard(correlationID)
}

// Stats returns P50/P95/P99/mean per stage plus totals and error rate
// over the last lastN turns (0 means the whole ring).
func (m *Metrics) Stats(lastN int) StatsSnapshot {
	return m.tracker.Stats(lastN)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveProviderError(providerType, name string) {
	m.ProviderErrors.WithLabelValues(providerType, name).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(reason string) {
	m.WSWriteErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
	m.ObserveSessionEvent("opened")
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
	m.ObserveSessionEvent("closed")
}

// Handler exposes the Prometheus registry for GET /metrics/prom.
func Handler() http.Handler {
	return promhttp.Handler()
}
