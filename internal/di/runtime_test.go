package di

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/platform/metrics"
)

func newTestRuntime() *Runtime {
	return &Runtime{
		Config: config.Config{
			Service: config.ServiceOrder,
			Server: config.ServerConfig{
				Addr:            "127.0.0.1:0",
				AdminAddr:       "127.0.0.1:0",
				ShutdownTimeout: time.Second,
			},
		},
		Logger:  zap.NewNop(),
		Metrics: metrics.New("order-service"),
	}
}

func TestRuntimeCloseRunsHooksInReverseOrder(t *testing.T) {
	rt := newTestRuntime()
	var order []string
	rt.OnClose("first", func() error {
		order = append(order, "first")
		return nil
	})
	rt.OnClose("second", func() error {
		order = append(order, "second")
		return errors.New("boom")
	})
	rt.OnClose("ignored", nil)

	rt.Close()
	if strings.Join(order, ",") != "second,first" {
		t.Fatalf("unexpected close order %v", order)
	}

	rt.Close()
	if len(order) != 2 {
		t.Fatalf("hooks must run once, got %v", order)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	t.Setenv("BUILD_VERSION", "1.4.2")
	t.Setenv("BUILD_COMMIT_SHA", "")
	t.Setenv("APP_ENVIRONMENT", "staging")
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(config.ServiceDispute, started)
	if info.Service != "dispute-service" || info.Version != "1.4.2" || info.Environment != "staging" {
		t.Fatalf("unexpected build info %+v", info)
	}
	if info.CommitSHA != defaultCommitSHA {
		t.Fatalf("expected default commit sha, got %q", info.CommitSHA)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected start time %s", info.StartedAt)
	}
}

func TestMiddlewaresRecoverPanicsIntoEnvelope(t *testing.T) {
	rt := newTestRuntime()
	r := chi.NewRouter()
	r.Use(rt.Middlewares()...)
	r.Get("/api/orders/{orderId}", func(http.ResponseWriter, *http.Request) {
		panic("unexpected nil order")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ord-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Code != "internal_server_error" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	count, err := testutil.GatherAndCount(rt.Metrics.Gatherer(), "http_request_duration_seconds")
	if err != nil || count != 1 {
		t.Fatalf("expected one duration series, got %d (%v)", count, err)
	}
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	rt := newTestRuntime()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- rt.Serve(ctx, http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestServeReportsListenErrors(t *testing.T) {
	rt := newTestRuntime()
	rt.Config.Server.Addr = "256.0.0.1:bad"

	err := rt.Serve(context.Background(), http.NotFoundHandler())
	if err == nil || !strings.Contains(err.Error(), "serve 256.0.0.1:bad") {
		t.Fatalf("expected listen error, got %v", err)
	}
}
