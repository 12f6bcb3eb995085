// Package metrics holds the server's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voiceclaw"

// Invocation outcomes used as the "outcome" label.
const (
	OutcomeOK       = "ok"
	OutcomeOffline  = "offline"
	OutcomeTimeout  = "timeout"
	OutcomeBackend  = "backend_error"
	OutcomeCanceled = "canceled"
)

// Metrics groups every collector the server exports.
type Metrics struct {
	registry *prometheus.Registry

	pairStarted       prometheus.Counter
	pairCompleted     prometheus.Counter
	pairFailed        *prometheus.CounterVec // by reason
	bridgesOnline     prometheus.Gauge
	bridgeConnects    prometheus.Counter
	bridgeDisconnects *prometheus.CounterVec   // by reason
	invocations       *prometheus.CounterVec   // by kind, outcome
	invokeDuration    *prometheus.HistogramVec // by kind
	httpRequests      *prometheus.CounterVec   // by route, status class
	hallucinations    prometheus.Counter

	mu      sync.Mutex
	summary summaryCounts
	bridges map[string]struct{} // every bridge id seen connecting
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bridges:  make(map[string]struct{}),

		pairStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "started_total",
			Help:      "Pairing codes issued",
		}),
		pairCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "completed_total",
			Help:      "Pairing codes exchanged for a bridge identity",
		}),
		pairFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "failed_total",
			Help:      "Failed pairing completions",
		}, []string{"reason"}), // reason: not_found, expired, invalid

		bridgesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "online",
			Help:      "Bridges holding a live connection",
		}),
		bridgeConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connects_total",
			Help:      "Authenticated bridge connections",
		}),
		bridgeDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "disconnects_total",
			Help:      "Bridge connections closed or refused",
		}, []string{"reason"}), // reason: closed, superseded, missing_token, invalid_token

		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invocations_total",
			Help:      "Gateway invocations by kind and outcome",
		}, []string{"kind", "outcome"}),
		invokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invocation_duration_seconds",
			Help:      "Gateway invocation round-trip time",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"kind"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class",
		}, []string{"route", "code"}),
		hallucinations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcribe",
			Name:      "skipped_total",
			Help:      "Transcripts dropped by the hallucination filter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pairStarted, m.pairCompleted, m.pairFailed,
		m.bridgesOnline, m.bridgeConnects, m.bridgeDisconnects,
		m.invocations, m.invokeDuration,
		m.httpRequests, m.hallucinations,
	)
	return m
}

// Registry exposes the underlying registry (tests, custom exposition).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PairStarted() {
	if m != nil {
		m.pairStarted.Inc()
		m.bump(func(c *summaryCounts) { c.pairStarted++ })
	}
}

func (m *Metrics) PairCompleted() {
	if m != nil {
		m.pairCompleted.Inc()
		m.bump(func(c *summaryCounts) { c.pairCompleted++ })
	}
}

func (m *Metrics) PairFailed(reason string) {
	if m != nil {
		m.pairFailed.WithLabelValues(reason).Inc()
	}
}

// BridgeConnected counts a connection for bridgeID and sets the online gauge.
func (m *Metrics) BridgeConnected(bridgeID string, online int) {
	if m != nil {
		m.bridgeConnects.Inc()
		m.bridgesOnline.Set(float64(online))
		m.bump(func(c *summaryCounts) {
			c.connected++
			m.bridges[bridgeID] = struct{}{}
		})
	}
}

// BridgeDisconnected counts a closed or refused connection and sets the online gauge.
// Refused upgrades never counted as connected, so they stay out of the summary.
func (m *Metrics) BridgeDisconnected(reason string, online int) {
	if m != nil {
		m.bridgeDisconnects.WithLabelValues(reason).Inc()
		m.bridgesOnline.Set(float64(online))
		if reason == "closed" || reason == "superseded" {
			m.bump(func(c *summaryCounts) { c.disconnected++ })
		}
	}
}

// Invocation records one finished gateway invocation.
func (m *Metrics) Invocation(kind, outcome string, seconds float64) {
	if m != nil {
		m.invocations.WithLabelValues(kind, outcome).Inc()
		m.invokeDuration.WithLabelValues(kind).Observe(seconds)
	}
}

// HTTPRequest records a finished request; code is the status class ("2xx").
func (m *Metrics) HTTPRequest(route, code string) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, code).Inc()
	}
}

func (m *Metrics) TranscriptSkipped() {
	if m != nil {
		m.hallucinations.Inc()
	}
}

type summaryCounts struct {
	pairStarted   int
	pairCompleted int
	connected     int
	disconnected  int
	updatedAt     time.Time
}

func (m *Metrics) bump(fn func(*summaryCounts)) {
	m.mu.Lock()
	fn(&m.summary)
	m.summary.updatedAt = time.Now()
	m.mu.Unlock()
}

// Summary is the admin view of pairing and connection activity since start.
type Summary struct {
	PairStarted              int       `json:"pairStarted"`
	PairCompleted            int       `json:"pairCompleted"`
	ConversionPct            float64   `json:"conversionPct"`
	UniqueBridges            int       `json:"uniqueBridges"`
	BridgeConnectedEvents    int       `json:"bridgeConnectedEvents"`
	BridgeDisconnectedEvents int       `json:"bridgeDisconnectedEvents"`
	OnlineNow                int       `json:"onlineNow"`
	PendingPairsNow          int       `json:"pendingPairsNow"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// Summary returns the counters; onlineNow and pendingPairs are live values
// the caller reads from the gateway and the pairing service.
func (m *Metrics) Summary(onlineNow, pendingPairs int) Summary {
	out := Summary{OnlineNow: onlineNow, PendingPairsNow: pendingPairs}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.summary
	out.PairStarted = c.pairStarted
	out.PairCompleted = c.pairCompleted
	out.UniqueBridges = len(m.bridges)
	out.BridgeConnectedEvents = c.connected
	out.BridgeDisconnectedEvents = c.disconnected
	out.UpdatedAt = c.updatedAt
	if c.pairStarted > 0 {
		// One decimal place.
		out.ConversionPct = math.Round(float64(c.pairCompleted)/float64(c.pairStarted)*1000) / 10
	}
	return out
}
