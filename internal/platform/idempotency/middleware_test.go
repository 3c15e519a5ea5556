package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

const disputeBody = `{"orderId":"ord-1","type":"DAMAGED_ITEM","reason":"Table top arrived cracked"}`

func newDisputeRequest(body, key, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/disputes", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Role: domain.RoleCustomer}))
	}
	return req
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handlerCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	})

	rr := httptest.NewRecorder()
	middleware(next).ServeHTTP(rr, newDisputeRequest(disputeBody, "", "cust-1"))

	if handlerCalled {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_OptionalKeyPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithOptionalKey())

	calls := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newDisputeRequest(disputeBody, "", "cust-1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both unkeyed requests to run, got %d", calls)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"dsp-1","reference":"DSP-ABC"}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newDisputeRequest(disputeBody, "abc-123", "cust-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newDisputeRequest(disputeBody, "abc-123", "cust-1"))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if rr1.Header().Get(ReplayHeader) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"cust-1", "cust-2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newDisputeRequest(disputeBody, "shared-key", uid))
		if rr.Code != http.StatusCreated || rr.Header().Get(ReplayHeader) != "" {
			t.Fatalf("expected fresh 201 for %s, got %d", uid, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected one call per caller, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newDisputeRequest(disputeBody, "same-key", "cust-1"))
	if rr1.Code != http.StatusCreated {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newDisputeRequest(`{"orderId":"ord-2","type":"OTHER","reason":"A different complaint"}`, "same-key", "cust-1"))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorCode(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked when reservation pending")
		}))

	req := newDisputeRequest(disputeBody, "pending-key", "cust-1")
	fingerprint := requestFingerprint(req, []byte(disputeBody), "cust-1")
	if _, err := store.Reserve(req.Context(), "pending-key|cust-1", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newDisputeRequest(disputeBody, "retry-key", "cust-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newDisputeRequest(disputeBody, "retry-key", "cust-1"))

	if rr1.Code != http.StatusServiceUnavailable || rr2.Code != http.StatusCreated {
		t.Fatalf("expected 503 then 201, got %d then %d", rr1.Code, rr2.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_SaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newDisputeRequest(disputeBody, "fail-key", "cust-1"))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to be delivered, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_ReserveFailureIsUnavailable(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("redis: connection refused")}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a reservation")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newDisputeRequest(disputeBody, "key", "cust-1"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_unavailable")
}

func TestMiddleware_IgnoresUnguardedMethods(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/disputes", nil))
	if !called {
		t.Fatalf("expected GET to bypass the middleware")
	}
}

type stubStore struct {
	reserveErr error
	failSave   bool
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Success || body.Code != expected {
		t.Fatalf("expected error code %s, got %+v", expected, body)
	}
}
