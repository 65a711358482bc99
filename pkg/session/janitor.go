package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/store"
)

// Janitor periodically stamps durably-expired sessions revoked. The Redis
// mirrors expire on their own via TTL; this keeps the durable rows honest
// for session listings and audit.
type Janitor struct {
	store  store.Store
	clock  clockwork.Clock
	logger *observability.Logger
	audit  audit.Logger
	cron   *cron.Cron
}

// NewJanitor creates a session janitor. A nil clock uses the real clock; a
// nil audit logger discards events.
func NewJanitor(st store.Store, clock clockwork.Clock, logger *observability.Logger, auditLogger audit.Logger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Janitor{
		store:  st,
		clock:  clock,
		logger: logger,
		audit:  auditLogger,
		cron:   cron.New(),
	}
}

// Start schedules the sweep. Schedule accepts cron expressions and
// descriptors like "@every 1h".
func (j *Janitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(j.logger, "session janitor sweep")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		j.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.WithField("schedule", schedule).Info("session janitor started")
	return nil
}

// Sweep runs one cleanup pass
func (j *Janitor) Sweep(ctx context.Context) {
	n, err := j.store.ExpireSessions(ctx, j.clock.Now().UTC())
	if err != nil {
		j.logger.WithError(err).Error("session sweep failed")
		return
	}
	if n > 0 {
		j.logger.WithField("expired", n).Info("session sweep complete")
		ev := audit.NewEvent(ctx, audit.EventTypeSessionExpired, audit.EventStatusSuccess)
		ev.Detail = fmt.Sprintf("%s (%d sessions)", ReasonExpired, n)
		j.audit.Log(ctx, ev)
	}
}

// Stop halts the schedule, waiting for a running sweep to finish
func (j *Janitor) Stop(ctx context.Context) error {
	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
