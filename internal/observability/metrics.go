package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cuebridge"

// Frame actions recorded by the relay.
const (
	ActionForwarded = "forwarded"
	ActionConsumed  = "consumed"
	ActionUnmatched = "unmatched"
	ActionSent      = "sent"
	ActionDropped   = "dropped"
	ActionUndecoded = "undecoded"
)

// Metrics holds the relay collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	frames       *prometheus.CounterVec
	calls        *prometheus.CounterVec
	callDuration prometheus.Histogram
	pending      prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_total",
				Help:      "Frames seen by the relay, by side and action.",
			},
			[]string{"side", "action"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "calls_total",
				Help:      "Resolved request batches by outcome.",
			},
			[]string{"outcome"},
		),
		callDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "call_duration_seconds",
				Help:      "Time from send to resolution of a request batch.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "pending_requests",
				Help:      "Outstanding reply expectations.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.calls, m.callDuration, m.pending, m.httpRequests, m.httpDuration)
	}
	return m
}

func (m *Metrics) RecordFrame(side, action string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(side, action).Inc()
}

func (m *Metrics) RecordCall(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
	m.callDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
