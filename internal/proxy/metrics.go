package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindTunnel  = "tunnel"
	kindForward = "forward"
	kindNone    = "none"

	resultOK             = "ok"
	resultNoRequest      = "no_request"
	resultParseError     = "parse_error"
	resultConnectError   = "connect_error"
	resultTransportError = "transport_error"

	directionUpstream   = "upstream"
	directionDownstream = "downstream"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	sessions  *prometheus.CounterVec
	active    *prometheus.GaugeVec
	results   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	bytes     *prometheus.CounterVec

	upstreamBytes   prometheus.Counter
	downstreamBytes prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "sessions_total",
			Help:      "Client sessions dispatched, by relay kind.",
		}, []string{"kind"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayproxy",
			Name:      "active_sessions",
			Help:      "Client sessions currently in progress, by relay kind.",
		}, []string{"kind"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "session_results_total",
			Help:      "Finished client sessions, by relay kind and outcome.",
		}, []string{"kind", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayproxy",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of client sessions.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed, by direction relative to the client.",
		}, []string{"direction"}),
	}
	m.upstreamBytes = m.bytes.WithLabelValues(directionUpstream)
	m.downstreamBytes = m.bytes.WithLabelValues(directionDownstream)

	reg.MustRegister(m.sessions, m.active, m.results, m.durations, m.bytes)

	return m
}

// begin records a dispatched session and returns a func that records its end.
func (m *Metrics) begin(kind string) func(result string) {
	start := time.Now()
	m.sessions.WithLabelValues(kind).Inc()
	m.active.WithLabelValues(kind).Inc()

	return func(result string) {
		m.active.WithLabelValues(kind).Dec()
		m.results.WithLabelValues(kind, result).Inc()
		m.durations.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) noRequest() {
	m.results.WithLabelValues(kindNone, resultNoRequest).Inc()
}

func (m *Metrics) addBytes(direction string, n int) {
	if direction == directionUpstream {
		m.upstreamBytes.Add(float64(n))
		return
	}
	m.downstreamBytes.Add(float64(n))
}
