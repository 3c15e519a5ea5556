// Package httpx renders the JSON envelope every service answers with.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/furnishop/commerce/internal/platform/requestctx"
)

// Every 503 tells the caller to back off for a second.
const retryAfterUnavailable = "1"

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is a failure answered to the client. Request and trace ids come from the request
// context when it is written.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

type envelope struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Data       any            `json:"data"`
	Code       string         `json:"code"`
	RequestID  string         `json:"requestId,omitempty"`
	TraceID    string         `json:"traceId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, maxCodeLen), Message: oneLine(message, maxMessageLen), Status: status}
}

// WithDetails attaches JSON-serialisable metadata such as field validation failures.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError answers err as the failure envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterUnavailable)
	}
	WriteJSON(w, status, envelope{
		StatusCode: status,
		Message:    err.Message,
		Code:       err.Code,
		RequestID:  oneLine(requestctx.RequestID(ctx), maxIDLen),
		TraceID:    oneLine(requestctx.TraceID(ctx), maxIDLen),
		Details:    err.Details,
	})
}

// WriteJSON writes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// oneLine flattens line breaks and caps value at limit bytes.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
