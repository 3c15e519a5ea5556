package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/furnishop/commerce/internal/platform/httpx"
)

const (
	apiPrefix       = "/api"
	handlerTimeout  = 30 * time.Second
	maxRequestBytes = 1 << 20
)

// RouteRegistrar mounts one service's endpoints under the API prefix.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	prefix      string
	middlewares chi.Middlewares
	health      *HealthHandlers
	groups      []RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the public router of a service: the middleware chain, liveness and
// readiness probes at the root, JSON 404/405 envelopes and the service routes under /api.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{prefix: apiPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(cfg.middlewares...)
	r.Use(middleware.Timeout(handlerTimeout), middleware.RequestSize(maxRequestBytes))
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	if len(cfg.groups) == 0 {
		return r
	}
	r.Route(cfg.prefix, func(api chi.Router) {
		for _, mount := range cfg.groups {
			mount(api)
		}
	})
	return r
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", "no route for "+r.URL.Path, http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed", r.Method+" is not allowed on "+r.URL.Path, http.StatusMethodNotAllowed))
}

// WithMiddlewares appends to the middleware chain, outermost first.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		for _, m := range mw {
			if m != nil {
				cfg.middlewares = append(cfg.middlewares, m)
			}
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts the order store and the order query facade.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup(reg) }

// WithDisputeRoutes mounts the dispute endpoints.
func WithDisputeRoutes(reg RouteRegistrar) Option { return withGroup(reg) }

// WithReviewRoutes mounts the product review endpoints.
func WithReviewRoutes(reg RouteRegistrar) Option { return withGroup(reg) }

func withGroup(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if reg != nil {
			cfg.groups = append(cfg.groups, reg)
		}
	}
}
