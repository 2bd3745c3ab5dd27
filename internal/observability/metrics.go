package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	Sends          *prometheus.CounterVec
	StreamEvents   *prometheus.CounterVec
	VoiceTurns     *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	WSMessages     *prometheus.CounterVec

	stages *StageWindow
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Chat sends by mode and outcome.",
		}, []string{"mode", "outcome"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Decoded chat stream events by type.",
		}, []string{"type"}),
		VoiceTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_turns_total",
			Help:      "Voice turns by terminal outcome.",
		}, []string{"outcome"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency of send and voice stages in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 4000, 8000},
		}, []string{"stage"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stages: NewStageWindow(256),
	}
}

// ObserveStage records a stage duration in both the histogram and the
// rolling window. Nil receivers are ignored so components can run without
// metrics in tests.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

// ObserveIndicator counts a notable, non-latency occurrence such as a stream
// that ended without its completion marker.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) CountSend(mode, outcome string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) CountStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) CountVoiceTurn(outcome string) {
	if m == nil {
		return
	}
	m.VoiceTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CountSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CountWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

// SessionOpened and SessionClosed keep the active gauge and lifecycle
// counter in step.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("created").Inc()
}

func (m *Metrics) SessionClosed(event string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

// MetricsHandler serves g, or the default gatherer when g is nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
