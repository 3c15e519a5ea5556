package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/furnishop/commerce/internal/handlers"
	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/platform/metrics"
	"github.com/furnishop/commerce/internal/platform/observability"
	"github.com/furnishop/commerce/internal/platform/secrets"
)

const (
	envFile          = ".env"
	closeTimeout     = 5 * time.Second
	defaultEnvLabel  = "local"
	defaultVersion   = "dev"
	defaultCommitSHA = "unknown"
)

type closer struct {
	name string
	fn   func() error
}

// Runtime holds the process wide infrastructure shared by every binary: configuration, the
// root logger, the Prometheus registry and the resources to release on shutdown.
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Registry
	Build   handlers.BuildInfo

	closers []closer
}

// Bootstrap loads configuration for service, resolving secret references through Secret
// Manager, and prepares logging and metrics.
func Bootstrap(ctx context.Context, service config.Service) (*Runtime, error) {
	startedAt := time.Now().UTC()

	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger := baseLogger.Named(string(service))

	rt := &Runtime{Logger: logger}
	rt.OnClose("logger", func() error {
		_ = baseLogger.Sync()
		return nil
	})

	fetcher, err := newSecretFetcher(ctx, logger.Named("secrets"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	rt.OnClose("secret fetcher", fetcher.Close)

	cfg, err := config.Load(ctx, service,
		config.WithEnvFile(""),
		config.WithSecretResolver(fetcher),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	rt.Config = cfg
	rt.Metrics = metrics.New(string(service))
	rt.Build = buildInfoFromEnv(service, startedAt)
	return rt, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger)}
	project := strings.TrimSpace(os.Getenv("SECRET_MANAGER_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("SECRETS_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildInfoFromEnv(service config.Service, started time.Time) handlers.BuildInfo {
	lookup := func(key, fallback string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		return fallback
	}
	return handlers.BuildInfo{
		Service:     string(service),
		Version:     lookup("BUILD_VERSION", defaultVersion),
		CommitSHA:   lookup("BUILD_COMMIT_SHA", defaultCommitSHA),
		Environment: lookup("APP_ENVIRONMENT", defaultEnvLabel),
		StartedAt:   started,
	}
}

// OnClose registers a release hook. Hooks run in reverse registration order.
func (rt *Runtime) OnClose(name string, fn func() error) {
	if fn == nil {
		return
	}
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close runs the registered hooks, logging failures instead of stopping early.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil && rt.Logger != nil {
			rt.Logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	rt.closers = nil
}

// EventLogger returns the structured event callback handed to the services.
func (rt *Runtime) EventLogger(name string) func(ctx context.Context, event string, fields map[string]any) {
	return observability.EventLogger(rt.Logger.Named(name))
}

// Middlewares returns the request pipeline shared by every binary. Recovery sits innermost
// so the request logger and the latency histogram both see a recovered panic as a 500.
func (rt *Runtime) Middlewares() []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		observability.RequestIDMiddleware,
		observability.TraceMiddleware,
		observability.InjectLoggerMiddleware(rt.Logger.Named("http")),
		observability.RequestLoggerMiddleware,
	}
	if rt.Metrics != nil {
		mws = append(mws, rt.Metrics.Middleware)
	}
	return append(mws, observability.RecoveryMiddleware(rt.Logger))
}

// Serve runs the public API listener and the admin listener exposing /metrics until ctx is
// cancelled or either listener fails, then drains both within the shutdown timeout.
func (rt *Runtime) Serve(ctx context.Context, api http.Handler) error {
	serverCfg := rt.Config.Server
	public := &http.Server{
		Addr:         serverCfg.Addr,
		Handler:      api,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
	}

	servers := []*http.Server{public}
	if serverCfg.AdminAddr != "" && rt.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              serverCfg.AdminAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			rt.Logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		rt.Logger.Info("shutting down; draining requests")

		timeout := serverCfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = closeTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// APIFactory builds the HTTP handler of one binary, registering its resources on rt.
type APIFactory func(ctx context.Context, rt *Runtime) (http.Handler, error)

// Run bootstraps service, builds its API and serves it until ctx is cancelled.
func Run(ctx context.Context, service config.Service, build APIFactory) error {
	rt, err := Bootstrap(ctx, service)
	if err != nil {
		return err
	}
	defer rt.Close()

	api, err := build(ctx, rt)
	if err != nil {
		rt.Logger.Error("startup failed", zap.Error(err))
		return err
	}
	rt.Logger.Info("starting",
		zap.String("version", rt.Build.Version),
		zap.String("commit", rt.Build.CommitSHA),
		zap.String("environment", rt.Build.Environment),
	)
	if err := rt.Serve(ctx, api); err != nil {
		rt.Logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	rt.Logger.Info("stopped")
	return nil
}
