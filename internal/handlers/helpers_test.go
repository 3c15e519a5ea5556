package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
)

type errorEnvelope struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Code       string         `json:"code"`
	Details    map[string]any `json:"details"`
}

func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Role: domain.RoleCustomer}
}

func staffIdentity(uid string, role domain.Role, branch string) *auth.Identity {
	return &auth.Identity{UID: uid, Role: role, BranchID: branch}
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(context.Background())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("expected JSON error envelope, got %q: %v", rr.Body.String(), err)
	}
	if env.Success {
		t.Fatalf("expected success=false in envelope")
	}
	if env.StatusCode != rr.Code {
		t.Fatalf("envelope statusCode %d does not match response %d", env.StatusCode, rr.Code)
	}
	return env
}
