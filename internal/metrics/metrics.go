// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakepool"

// Metrics owns its registry so several engines can live in one process
// (tests). All methods are no-ops on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	proofs          *prometheus.CounterVec
	payouts         *prometheus.CounterVec
	transferRetries *prometheus.CounterVec
	settleFailures  prometheus.Counter
	pendingPayouts  prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "transitions_total",
			Help:      "Pool status transitions.",
		}, []string{"from", "to"}),
		proofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proof",
			Name:      "submissions_total",
			Help:      "Proofs by resulting state.",
		}, []string{"state"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "payouts_total",
			Help:      "Escrow payouts by kind and result.",
		}, []string{"kind", "result"}),
		transferRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "retries_total",
			Help:      "Retried chain calls.",
		}, []string{"op"}),
		settleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Pools moved to failed by a transfer error. Each needs manual reconciliation.",
		}),
		pendingPayouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "pending_payouts",
			Help:      "Payouts submitted and awaiting finality.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
	}
	m.Registry.MustRegister(
		m.transitions, m.proofs, m.payouts, m.transferRetries,
		m.settleFailures, m.pendingPayouts, m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) PoolTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Proof(state string) {
	if m == nil {
		return
	}
	m.proofs.WithLabelValues(state).Inc()
}

func (m *Metrics) Payout(kind, result string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) TransferRetry(op string) {
	if m == nil {
		return
	}
	m.transferRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) SettlementFailure() {
	if m == nil {
		return
	}
	m.settleFailures.Inc()
}

func (m *Metrics) SetPendingPayouts(n int) {
	if m == nil {
		return
	}
	m.pendingPayouts.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
