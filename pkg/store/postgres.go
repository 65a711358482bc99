package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/paddleraise/authcore/pkg/observability"
)

const uniqueViolation = "23505"

// readRetries bounds retry attempts for idempotent reads. Writes are never
// retried.
const readRetries = 3

// Postgres implements Store on database/sql with the lib/pq driver
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
	logger  *observability.Logger
}

// Connect opens a Postgres connection pool and verifies it with a ping
func Connect(url string, maxOpen, maxIdle int, connLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

// NewPostgres creates a Postgres store. A zero timeout defaults to 5s.
func NewPostgres(db *sql.DB, timeout time.Duration, logger *observability.Logger) *Postgres {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{db: db, timeout: timeout, logger: logger}
}

// DB exposes the underlying pool for health checks
func (p *Postgres) DB() *sql.DB {
	return p.db
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// retryRead runs fn up to readRetries times with exponential backoff. Only
// used for idempotent reads; context cancellation and not-found stop the
// retry loop immediately.
func (p *Postgres) retryRead(ctx context.Context, fn func(context.Context) error) error {
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < readRetries; attempt++ {
		opCtx, cancel := p.withTimeout(ctx)
		err = fn(opCtx)
		cancel()
		if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt < readRetries-1 {
			if p.logger != nil {
				p.logger.WithError(err).Warnf("store read failed, retrying in %v", backoff)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return err
}

// CreatePrincipal inserts a principal, mapping a unique email violation to
// ErrDuplicateEmail.
func (p *Postgres) CreatePrincipal(ctx context.Context, pr *Principal) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO principals (id, email, password_hash, role, tenant_id, is_active, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pr.ID, pr.Email, pr.PasswordHash, string(pr.Role), pr.TenantID,
		pr.IsActive, pr.EmailVerified, pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("creating principal: %w", err)
	}
	return nil
}

const principalColumns = `id, email, password_hash, role, tenant_id, is_active, email_verified, last_login_at, created_at, updated_at`

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var pr Principal
	var role string
	err := row.Scan(&pr.ID, &pr.Email, &pr.PasswordHash, &role, &pr.TenantID,
		&pr.IsActive, &pr.EmailVerified, &pr.LastLoginAt, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning principal: %w", err)
	}
	pr.Role = Role(role)
	return &pr, nil
}

// GetPrincipalByID fetches a principal by ID
func (p *Postgres) GetPrincipalByID(ctx context.Context, id string) (*Principal, error) {
	var pr *Principal
	err := p.retryRead(ctx, func(ctx context.Context) error {
		var err error
		pr, err = scanPrincipal(p.db.QueryRowContext(ctx,
			`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
		return err
	})
	return pr, err
}

// GetPrincipalByEmail fetches a principal by lowercased email
func (p *Postgres) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	var pr *Principal
	err := p.retryRead(ctx, func(ctx context.Context) error {
		var err error
		pr, err = scanPrincipal(p.db.QueryRowContext(ctx,
			`SELECT `+principalColumns+` FROM principals WHERE email = $1`, email))
		return err
	})
	return pr, err
}

// UpdatePrincipal applies a partial update; nil patch fields are untouched
func (p *Postgres) UpdatePrincipal(ctx context.Context, id string, patch PrincipalPatch) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `
		UPDATE principals SET
			password_hash  = COALESCE($2, password_hash),
			role           = COALESCE($3, role),
			tenant_id      = COALESCE($4, tenant_id),
			is_active      = COALESCE($5, is_active),
			email_verified = COALESCE($6, email_verified),
			last_login_at  = COALESCE($7, last_login_at),
			updated_at     = NOW()
		WHERE id = $1`,
		id, patch.PasswordHash, (*string)(patch.Role), patch.TenantID,
		patch.IsActive, patch.EmailVerified, patch.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("updating principal: %w", err)
	}
	return requireRow(res)
}

// CreateSession inserts a durable session record
func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, device_info, ip_address, user_agent, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.DeviceInfo, s.IPAddress, s.UserAgent, s.IssuedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, device_info, ip_address, user_agent, issued_at, expires_at, revoked_at`

// GetSession fetches a session by ID
func (p *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	var s *Session
	err := p.retryRead(ctx, func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
		var sess Session
		err := row.Scan(&sess.ID, &sess.UserID, &sess.DeviceInfo, &sess.IPAddress,
			&sess.UserAgent, &sess.IssuedAt, &sess.ExpiresAt, &sess.RevokedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("scanning session: %w", err)
		}
		s = &sess
		return nil
	})
	return s, err
}

// ListSessions returns all sessions for a user, newest first
func (p *Postgres) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	var sessions []*Session
	err := p.retryRead(ctx, func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY issued_at DESC, id`, userID)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		defer rows.Close()

		sessions = sessions[:0]
		for rows.Next() {
			var s Session
			if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceInfo, &s.IPAddress,
				&s.UserAgent, &s.IssuedAt, &s.ExpiresAt, &s.RevokedAt); err != nil {
				return fmt.Errorf("scanning session: %w", err)
			}
			sessions = append(sessions, &s)
		}
		return rows.Err()
	})
	return sessions, err
}

// RevokeSession stamps RevokedAt. Revoking twice returns ErrAlreadyRevoked;
// a missing session returns ErrNotFound.
func (p *Postgres) RevokeSession(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	if n == 0 {
		// distinguish missing from already-revoked
		var exists bool
		err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("revoking session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyRevoked
	}
	return nil
}

// RevokeUserSessions revokes all of a user's active sessions except exceptID
func (p *Postgres) RevokeUserSessions(ctx context.Context, userID, exceptID string, at time.Time) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
		UPDATE sessions SET revoked_at = $3
		WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL
		RETURNING id`,
		userID, exceptID, at)
	if err != nil {
		return nil, fmt.Errorf("revoking user sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("revoking user sessions: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireSessions revokes sessions whose expiry has passed
func (p *Postgres) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE expires_at < $1 AND revoked_at IS NULL`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	return res.RowsAffected()
}

// AppendAudit inserts an audit record. The audit table is append-only.
func (p *Postgres) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, event_type, status, user_id, target_id, ip_address, user_agent, request_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.EventType, rec.Status, nullable(rec.UserID), nullable(rec.TargetID),
		rec.IPAddress, rec.UserAgent, nullable(rec.RequestID), rec.Detail, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit records for a user
func (p *Postgres) ListAudit(ctx context.Context, userID string, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*AuditRecord
	err := p.retryRead(ctx, func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx, `
			SELECT id, event_type, status, user_id, target_id, ip_address, user_agent, request_id, detail, occurred_at
			FROM audit_records WHERE user_id = $1 ORDER BY occurred_at DESC LIMIT $2`,
			userID, limit)
		if err != nil {
			return fmt.Errorf("listing audit records: %w", err)
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var rec AuditRecord
			var uid, tid, rid sql.NullString
			if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Status, &uid, &tid,
				&rec.IPAddress, &rec.UserAgent, &rid, &rec.Detail, &rec.OccurredAt); err != nil {
				return fmt.Errorf("scanning audit record: %w", err)
			}
			rec.UserID, rec.TargetID, rec.RequestID = uid.String, tid.String, rid.String
			records = append(records, &rec)
		}
		return rows.Err()
	})
	return records, err
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
