package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency stages recorded per session.
const (
	StageDial       = "dial"
	StageHandshake  = "handshake"
	StageFirstAudio = "first_audio"
)

// Metrics groups all Prometheus instruments used by voice sessions. Every
// method is safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry
	latency  *latencyWindow

	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	SessionEnds    *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	AudioBlocks    *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
}

// NewMetrics builds the instruments on a private registry, so several
// managers (or tests) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		latency:  newLatencyWindow(256),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live realtime voice sessions (0 or 1 per manager).",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		SessionEnds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ends_total",
			Help:      "Session teardowns by reason.",
		}, []string{"reason"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		AudioBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_total",
			Help:      "Capture blocks by outcome (sent, dropped).",
		}, []string{"outcome"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_stage_latency_ms",
			Help:      "Session setup latency by stage in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}, []string{"stage"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("connect").Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEnds.WithLabelValues(reason).Inc()
	m.latency.sessionEnded(reason)
}

func (m *Metrics) Event(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.latency.event(event)
}

func (m *Metrics) Message(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) BlockSent() {
	if m == nil {
		return
	}
	m.AudioBlocks.WithLabelValues("sent").Inc()
}

func (m *Metrics) BlockDropped() {
	if m == nil {
		return
	}
	m.AudioBlocks.WithLabelValues("dropped").Inc()
	m.latency.event("dropped_block")
}

// ObserveStage records how long a setup stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.latency.observe(stage, ms)
}

// LatencySnapshot summarises recent stage timings and session outcomes.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.snapshot()
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
