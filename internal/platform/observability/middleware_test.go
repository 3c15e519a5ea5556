package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/furnishop/commerce/internal/platform/requestctx"
)

func TestTraceMiddlewareHonoursTraceparent(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %q", got.TraceID)
	}
	if !got.Sampled {
		t.Fatalf("expected sampled flag to propagate")
	}
	if rr.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected cloud trace header on response")
	}
}

func TestTraceMiddlewareFallsBackToCloudTraceHeader(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %q", got.TraceID)
	}
	if got.SpanID != "0000000000000001" {
		t.Fatalf("unexpected span id %q", got.SpanID)
	}
}

func TestParseCloudTraceContextRejectsGarbage(t *testing.T) {
	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestRequestIDMiddlewarePropagatesChiID(t *testing.T) {
	var seen string
	handler := middleware.RequestID(RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.RequestID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req-123" {
		t.Fatalf("expected request id req-123, got %q", seen)
	}
	if rr.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected request id echoed, got %q", rr.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(requestctx.WithRequestID(req.Context(), "req-9"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body struct {
		Success   bool   `json:"success"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Code != "internal_server_error" || body.RequestID != "req-9" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/disputes", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 409, got %s", entries[0].Level)
	}
	if status := entries[0].ContextMap()["status"]; status != int64(http.StatusConflict) {
		t.Fatalf("unexpected status field %v", status)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(fallbackCore))

	logEvent(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	logEvent(ctx, "order.event.publish.failed", map[string]any{"error": "down"})

	if fallbackLogs.Len() != 1 || fallbackLogs.All()[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("expected fallback logger to receive first event")
	}
	entries := requestLogs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected failed event at warn level on request logger, got %+v", entries)
	}
}

func TestLogSafeStripsControlCharactersAndTruncates(t *testing.T) {
	if got := logSafe("ord-1\n level=error forged", 80); got != "ord-1 level=error forged" {
		t.Fatalf("expected newline stripped, got %q", got)
	}
	if got := logSafe("  ソファ-table  ", 3); got != "ソファ" {
		t.Fatalf("expected rune truncation, got %q", got)
	}
	if got := remoteIP("203.0.113.7:52100"); got != "203.0.113.7" {
		t.Fatalf("expected port dropped, got %q", got)
	}
}
