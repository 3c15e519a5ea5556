// Package metrics owns the per-process Prometheus registry and the service counters.
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

	"github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/services"
)

const unmatchedRoute = "unmatched"

// Registry bundles the collectors of one service process.
type Registry struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	disputeChecks   *prometheus.CounterVec
	reviewChecks    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	_ services.TransitionMetrics  = (*Registry)(nil)
	_ services.EligibilityMetrics = (*Registry)(nil)
)

// New registers the service collectors plus the Go runtime and process collectors.
func New(service string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg))

	return &Registry{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_status_transitions_total",
			Help: "Order status transition attempts by source status, target status and outcome.",
		}, []string{"from", "to", "outcome"}),
		disputeChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_eligibility_checks_total",
			Help: "Dispute eligibility decisions by outcome.",
		}, []string{"outcome"}),
		reviewChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "review_eligibility_checks_total",
			Help: "Review eligibility decisions by lookup mode and outcome.",
		}, []string{"mode", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (r *Registry) ObserveTransition(from, to domain.OrderStatus, outcome string) {
	r.transitions.WithLabelValues(string(from), string(to), outcome).Inc()
}

// ObserveEligibility records a validator decision. The dispute validator has a single mode
// so only the outcome is kept.
func (r *Registry) ObserveEligibility(validator, mode, outcome string) {
	switch validator {
	case "dispute":
		r.disputeChecks.WithLabelValues(outcome).Inc()
	case "review":
		r.reviewChecks.WithLabelValues(mode, outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Middleware records request latency labelled by the chi route pattern, never the raw path.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requestDuration.
			WithLabelValues(req.Method, routePattern(req), strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func routePattern(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
