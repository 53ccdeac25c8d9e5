package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds login-scoped logging fields.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	SessionID string    // Login session id, one per Login call
	Origin    string    // Client address the login came from
	Phase     string    // Pipeline phase currently running
	StartTime time.Time // For duration calculation
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

// NewLogContext starts a login log context with a fresh session id.
func NewLogContext(origin string) *LogContext {
	return &LogContext{
		SessionID: uuid.NewString(),
		Origin:    origin,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPhase returns a copy with the phase set
func (lc *LogContext) WithPhase(phase string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Phase = phase
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
