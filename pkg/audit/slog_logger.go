package audit

import (
	"context"

	"github.com/paddleraise/authcore/pkg/observability"
)

// SlogLogger mirrors audit events into the structured application log so the
// trail is visible in log aggregation alongside the durable store copy.
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates a log-backed audit logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Log implements Logger
func (l *SlogLogger) Log(ctx context.Context, event *Event) error {
	entry := l.logger.
		WithField("audit_id", event.ID).
		WithField("event_type", string(event.EventType)).
		WithField("status", string(event.Status)).
		WithField("ip_address", event.IPAddress)
	if event.UserID != "" {
		entry = entry.WithField("user_id", event.UserID)
	}
	if event.TargetID != "" {
		entry = entry.WithField("target_id", event.TargetID)
	}
	if event.RequestID != "" {
		entry = entry.WithField("request_id", event.RequestID)
	}
	if event.Detail != "" {
		entry = entry.WithField("detail", event.Detail)
	}
	entry.Info("audit event")
	return nil
}

// Close implements Logger
func (l *SlogLogger) Close() error { return nil }
