package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type settlementMetrics struct {
	settlements *prometheus.CounterVec
	failures    *prometheus.CounterVec
	volume      *prometheus.CounterVec
	fees        *prometheus.CounterVec
	paused      prometheus.Gauge
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	settlementOnce     sync.Once
	settlementRegistry *settlementMetrics
)

// RPC returns the lazily-initialised metrics registry used to record JSON-RPC
// activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paygrid",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one JSON-RPC request. The status code should
// be the HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Settlements returns the metrics registry tracking charge execution health.
func Settlements() *settlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &settlementMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "settlement",
				Name:      "charges_total",
				Help:      "Count of settled charges segmented by gateway.",
			}, []string{"gateway"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "settlement",
				Name:      "failures_total",
				Help:      "Count of failed charge attempts segmented by gateway and reason.",
			}, []string{"gateway", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "settlement",
				Name:      "volume_total",
				Help:      "Gross settled value in base units segmented by gateway.",
			}, []string{"gateway"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygrid",
				Subsystem: "settlement",
				Name:      "fees_total",
				Help:      "Collected fees in base units segmented by gateway and leg.",
			}, []string{"gateway", "leg"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "paygrid",
				Subsystem: "settlement",
				Name:      "pause_engaged",
				Help:      "Indicates whether the emergency pause is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.settlements,
			settlementRegistry.failures,
			settlementRegistry.volume,
			settlementRegistry.fees,
			settlementRegistry.paused,
		)
	})
	return settlementRegistry
}

// RecordCharge records one settled charge and its fee split.
func (m *settlementMetrics) RecordCharge(gateway string, amount, gatewayFee, protocolFee uint64) {
	if m == nil {
		return
	}
	label := labelGateway(gateway)
	m.settlements.WithLabelValues(label).Inc()
	m.volume.WithLabelValues(label).Add(float64(amount))
	m.fees.WithLabelValues(label, "gateway").Add(float64(gatewayFee))
	m.fees.WithLabelValues(label, "protocol").Add(float64(protocolFee))
}

// RecordFailure increments the failure counter for the supplied reason.
func (m *settlementMetrics) RecordFailure(gateway, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.failures.WithLabelValues(labelGateway(gateway), reason).Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *settlementMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func labelGateway(gateway string) string {
	trimmed := strings.TrimSpace(gateway)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
