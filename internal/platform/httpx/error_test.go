package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/furnishop/commerce/internal/platform/requestctx"
)

func TestWriteErrorUnavailableEnvelope(t *testing.T) {
	ctx := requestctx.WithRequestID(context.Background(), "req-42")
	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("upstream_unavailable", "order service\nunreachable", http.StatusServiceUnavailable))

	if rr.Code != http.StatusServiceUnavailable || rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 503 with Retry-After, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["statusCode"] != float64(503) || body["data"] != nil {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["message"] != "order service unreachable" || body["requestId"] != "req-42" {
		t.Fatalf("unexpected message or request id %v", body)
	}
	if _, ok := body["details"]; ok {
		t.Fatalf("empty details must be omitted")
	}
}

func TestNewErrorDefaultsToInternal(t *testing.T) {
	err := NewError("boom", "failed", 0).WithDetails(map[string]any{"field": "rating"})
	if err.Status != http.StatusInternalServerError || err.Details["field"] != "rating" {
		t.Fatalf("unexpected error %+v", err)
	}
}
