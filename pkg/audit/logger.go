// Package audit records the append-only trail of security-relevant events:
// logins, refreshes, revocations, password and role changes.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paddleraise/authcore/pkg/contextkeys"
)

// Logger is the interface for audit logging. Implementations must never
// block the calling auth flow on downstream failures longer than their own
// timeouts, and must never reject an event silently.
type Logger interface {
	// Log records one audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, defaulting to a no-op
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NewEvent builds an event with a fresh ID and the context's request ID.
// The IP address defaults to "unknown" until the caller sets it.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Status:     status,
		IPAddress:  "unknown",
		RequestID:  contextkeys.GetRequestID(ctx),
		OccurredAt: time.Now().UTC(),
	}
}

// NopLogger discards all events
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

// Close implements Logger
func (NopLogger) Close() error { return nil }
