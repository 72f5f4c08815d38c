// Package metrics exposes Prometheus counters for verification codes, MFA
// challenges and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-mfa/pkg/domain"
)

const namespace = "simple_mfa"

// Metrics implements auth.Observer and serves the /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	codesSent         *prometheus.CounterVec
	codesVerified     *prometheus.CounterVec
	challenges        *prometheus.CounterVec
	recoveryConsumed  prometheus.Counter
	codesCleaned      prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpRequestLength *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		codesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_sent_total",
			Help:      "Verification codes sent, by kind.",
		}, []string{"kind"}),
		codesVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_verified_total",
			Help:      "Verification code checks, by kind and result.",
		}, []string{"kind", "result"}),
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_challenges_total",
			Help:      "MFA challenge verifications, by mode and result.",
		}, []string{"mode", "result"}),
		recoveryConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_codes_consumed_total",
			Help:      "Recovery codes used.",
		}),
		codesCleaned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_codes_cleaned_total",
			Help:      "Expired or stale verification codes removed.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestLength: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"method", "route"}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) CodeSent(kind string) {
	m.codesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) CodeVerified(kind string, ok bool) {
	m.codesVerified.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) ChallengeVerified(mode domain.ChallengeMode, ok bool) {
	m.challenges.WithLabelValues(string(mode), result(ok)).Inc()
}

func (m *Metrics) RecoveryCodeConsumed() {
	m.recoveryConsumed.Inc()
}

func (m *Metrics) CodesCleaned(n int64) {
	m.codesCleaned.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestLength.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
