package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles prometheus.Counter
}

type ledgerMetrics struct {
	transfersResolved *prometheus.CounterVec
	transfersPending  prometheus.Gauge
	activeLoans       prometheus.Gauge
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// RPC returns the lazily-initialised metrics registry used to record JSON-RPC
// activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pawn",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pawn",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "JSON-RPC failures segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pawn",
				Subsystem: "rpc",
				Name:      "latency_seconds",
				Help:      "JSON-RPC handler latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pawn",
				Subsystem: "rpc",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter.",
			}),
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

// ObserveRequest records one handled request with its latency.
func (m *rpcMetrics) ObserveRequest(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	m.requests.WithLabelValues(method, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(method).Observe(seconds)
}

// ObserveError records one failed request by error code.
func (m *rpcMetrics) ObserveError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(method), normalizeLabel(code)).Inc()
}

// ObserveThrottle records a rate-limited request.
func (m *rpcMetrics) ObserveThrottle() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

// Ledger returns the metrics registry tracking the transfer resolution
// protocol and loan book.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			transfersResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pawn",
				Subsystem: "ledger",
				Name:      "transfers_resolved_total",
				Help:      "Resolved external transfers segmented by outcome.",
			}, []string{"outcome"}),
			transfersPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pawn",
				Subsystem: "ledger",
				Name:      "transfers_pending",
				Help:      "In-flight external transfers awaiting resolution.",
			}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pawn",
				Subsystem: "ledger",
				Name:      "active_loans",
				Help:      "Collateral records with a positive outstanding principal.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transfersResolved,
			ledgerRegistry.transfersPending,
			ledgerRegistry.activeLoans,
		)
	})
	return ledgerRegistry
}

// ObserveResolution records one resolved transfer outcome.
func (m *ledgerMetrics) ObserveResolution(success bool) {
	if m == nil {
		return
	}
	outcome := "confirmed"
	if !success {
		outcome = "compensated"
	}
	m.transfersResolved.WithLabelValues(outcome).Inc()
}

// SetPending publishes the current in-flight transfer count.
func (m *ledgerMetrics) SetPending(count float64) {
	if m == nil {
		return
	}
	m.transfersPending.Set(count)
}

// SetActiveLoans publishes the current active loan count.
func (m *ledgerMetrics) SetActiveLoans(count float64) {
	if m == nil {
		return
	}
	m.activeLoans.Set(count)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
