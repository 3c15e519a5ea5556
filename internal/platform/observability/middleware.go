package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/httpx"
	"github.com/furnishop/commerce/internal/platform/requestctx"
)

// RequestIDHeader carries the request id between services.
const RequestIDHeader = "X-Request-Id"

// Field length caps for values copied from the request into logs.
const (
	maxRequestIDLen = 80
	maxRouteLen     = 180
	maxMethodLen    = 10
	maxUserIDLen    = 64
	maxIPLen        = 64
)

// RequestIDMiddleware publishes the chi request id (or the caller's X-Request-Id when chi
// has none) on the request context and the response. Mount it after middleware.RequestID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logSafe(middleware.GetReqID(r.Context()), maxRequestIDLen)
		if id == "" {
			id = logSafe(r.Header.Get(RequestIDHeader), maxRequestIDLen)
		}
		if id != "" {
			w.Header().Set(RequestIDHeader, id)
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithRequestID(r.Context(), id)))
	})
}

// InjectLoggerMiddleware makes logger the base logger of every request.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware scopes the request logger to the request and writes one access
// line once the handler returns. The level follows the status class.
func RequestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		traceInfo, _ := requestctx.Trace(ctx)
		fields := []zap.Field{
			zap.String("request_id", requestctx.RequestID(ctx)),
			zap.String("method", logSafe(r.Method, maxMethodLen)),
			zap.String("path", logSafe(r.URL.Path, maxRouteLen)),
			zap.String("trace_id", traceInfo.TraceID),
		}
		if ip := remoteIP(r.RemoteAddr); ip != "" {
			fields = append(fields, zap.String("remote_ip", ip))
		}
		logger := requestctx.Logger(ctx).With(fields...)
		r = r.WithContext(requestctx.WithLogger(ctx, logger))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := logSafe(matchedRoute(r), maxRouteLen)
		annotateSpan(r.Context(), status, route)
		logCompletion(logger, status,
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("user_id", callerUID(r.Context())),
		)
	})
}

func logCompletion(logger *zap.Logger, status int, fields ...zap.Field) {
	const msg = "request completed"
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(msg, fields...)
	case status >= http.StatusBadRequest:
		logger.Warn(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}

func annotateSpan(ctx context.Context, status int, route string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// RecoveryMiddleware turns a panic into the 500 envelope and logs its stack. It must sit
// inside the request logger and the metrics middleware so both still see the 500.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger, ok := requestctx.LookupLogger(r.Context())
				if !ok {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func callerUID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return logSafe(identity.UID, maxUserIDLen)
	}
	return ""
}

func matchedRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

func remoteIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return logSafe(addr, maxIPLen)
}

// logSafe strips control characters, which could forge log lines, and keeps at most limit
// runes.
func logSafe(value string, limit int) string {
	var b strings.Builder
	b.Grow(min(len(value), limit*utf8.UTFMax))
	kept := 0
	for _, r := range strings.TrimSpace(value) {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}
