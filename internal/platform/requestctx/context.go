package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	requestIDKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata extracted from incoming headers.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

func ensure(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores a request scoped logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ensure(ctx), loggerKey, logger)
}

// Logger returns the request scoped logger or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := LookupLogger(ctx); ok {
		return logger
	}
	return noopLogger
}

// LookupLogger reports whether a logger was stored on the context.
func LookupLogger(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok && logger != nil
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ensure(ctx), traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the trace identifier or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithRequestID stores the request identifier propagated to downstream services.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ensure(ctx), requestIDKey, id)
}

// RequestID returns the request identifier or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
