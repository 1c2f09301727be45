package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds call-scoped logging context carried alongside a
// connection's context.Context, from accept through reply.
type LogContext struct {
	TraceID   string // correlation ID assigned when the connection was accepted
	SpanID    string // correlation ID assigned for a single RPC call
	Procedure string // VXI-11 procedure name (device_write, device_read, ...)
	LinkID    int32  // device link this call operates on, -1 if not yet known
	ClientIP  string // client IP address (without port)
	AuthFlavor uint32 // RPC auth flavor presented with this call
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a freshly accepted connection.
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		LinkID:    -1,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:    lc.TraceID,
		SpanID:     lc.SpanID,
		Procedure:  lc.Procedure,
		LinkID:     lc.LinkID,
		ClientIP:   lc.ClientIP,
		AuthFlavor: lc.AuthFlavor,
		StartTime:  lc.StartTime,
	}
}

// WithProcedure returns a copy with the procedure name set
func (lc *LogContext) WithProcedure(procedure string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Procedure = procedure
	}
	return clone
}

// WithLinkID returns a copy with the link ID set
func (lc *LogContext) WithLinkID(lid int32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.LinkID = lid
	}
	return clone
}

// WithAuth returns a copy with the auth flavor set
func (lc *LogContext) WithAuth(authFlavor uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.AuthFlavor = authFlavor
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
