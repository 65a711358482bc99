// Package store defines the persistent domain model and its Postgres
// implementation: principals, durable session records, and the append-only
// audit trail.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when registering an email that already exists
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrAlreadyRevoked is returned when revoking a session that is already revoked
	ErrAlreadyRevoked = errors.New("session already revoked")
)

// Store is the persistent store behind the auth service. Implementations
// must be safe for concurrent use.
type Store interface {
	// Principals
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	UpdatePrincipal(ctx context.Context, id string, patch PrincipalPatch) error

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, userID string) ([]*Session, error)
	// RevokeSession stamps RevokedAt; revoking an already-revoked session
	// returns ErrAlreadyRevoked so callers can treat it as idempotent.
	RevokeSession(ctx context.Context, id string, at time.Time) error
	// RevokeUserSessions revokes all active sessions for a user except the
	// one named by exceptID (empty revokes all). Returns the revoked IDs.
	RevokeUserSessions(ctx context.Context, userID, exceptID string, at time.Time) ([]string, error)
	// ExpireSessions revokes sessions whose ExpiresAt has passed, returning
	// the number affected. Run by the janitor.
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, userID string, limit int) ([]*AuditRecord, error)

	Close() error
}
