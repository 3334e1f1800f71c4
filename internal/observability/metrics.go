package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// Every helper tolerates a nil receiver so components can run unobserved in tests.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	Handoffs          *prometheus.CounterVec
	Interruptions     prometheus.Counter
	CaptureBlocks     *prometheus.CounterVec
	PlaybackChunks    *prometheus.CounterVec
	Leads             *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	ConnectLatency    prometheus.Histogram
	FirstAudioLatency prometheus.Histogram

	stages *callStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of widget connections with a live bridge.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls from the live model by tool name.",
		}, []string{"tool"}),
		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Persona handoffs by source and target persona.",
		}, []string{"from", "to"}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Barge-in interruptions that stopped agent playback.",
		}),
		CaptureBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_total",
			Help:      "Captured microphone blocks by outcome.",
		}, []string{"outcome"}),
		PlaybackChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Agent audio chunks by outcome.",
		}, []string{"outcome"}),
		Leads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_total",
			Help:      "Captured leads by outcome.",
		}, []string{"outcome"}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "User-facing errors by kind.",
		}, []string{"kind"}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Latency from connect request to live session open in milliseconds.",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2500, 5000},
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session open to first agent audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		stages: newCallStageWindow(256),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ToolCall(tool string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool).Inc()
}

func (m *Metrics) Handoff(from, to string) {
	if m == nil {
		return
	}
	m.Handoffs.WithLabelValues(from, to).Inc()
	m.stages.ObserveIndicator("handoff")
}

func (m *Metrics) Interruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
	m.stages.ObserveIndicator("interruption")
}

func (m *Metrics) CaptureBlock(outcome string) {
	if m == nil {
		return
	}
	m.CaptureBlocks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PlaybackChunk(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackChunks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lead(outcome string) {
	if m == nil {
		return
	}
	m.Leads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
	m.stages.ObserveIndicator("error_" + kind)
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveConnectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageConnectToOpen, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageOpenToFirstAudio, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample for the rolling /v1/perf/latency view.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) SnapshotCallStages() CallStageSnapshot {
	if m == nil {
		return CallStageSnapshot{}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
