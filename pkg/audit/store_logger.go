package audit

import (
	"context"
	"fmt"

	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/store"
)

// StoreLogger persists audit events to the durable store. Persistence
// failures are logged and returned; callers decide whether the triggering
// operation proceeds (it does, everywhere: audit loss must not take down
// login).
type StoreLogger struct {
	store  store.Store
	logger *observability.Logger
}

// NewStoreLogger creates a store-backed audit logger
func NewStoreLogger(st store.Store, logger *observability.Logger) *StoreLogger {
	return &StoreLogger{store: st, logger: logger}
}

// Log implements Logger
func (l *StoreLogger) Log(ctx context.Context, event *Event) error {
	rec := &store.AuditRecord{
		ID:         event.ID,
		EventType:  string(event.EventType),
		Status:     string(event.Status),
		UserID:     event.UserID,
		TargetID:   event.TargetID,
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		RequestID:  event.RequestID,
		Detail:     event.Detail,
		OccurredAt: event.OccurredAt,
	}
	if err := l.store.AppendAudit(ctx, rec); err != nil {
		if l.logger != nil {
			l.logger.WithError(err).
				WithField("event_type", string(event.EventType)).
				Error("failed to persist audit event")
		}
		return fmt.Errorf("persisting audit event: %w", err)
	}
	return nil
}

// Close implements Logger; the store's lifetime is owned elsewhere
func (l *StoreLogger) Close() error { return nil }
