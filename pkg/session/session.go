// Package session owns the session lifecycle: creation, one-time refresh
// rotation, revocation, and access-token liveness checks against the
// blacklist.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/token"
)

var (
	// ErrSessionNotFound is returned when no session exists for a token
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned when the session has been revoked,
	// including replays of an already-rotated refresh token
	ErrSessionRevoked = errors.New("session revoked")
	// ErrCacheUnavailable is returned when the blacklist cannot be checked.
	// Callers must treat it as a denial: liveness checks fail closed.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

// Revocation reasons recorded in audit events
const (
	ReasonLogout         = "logout"
	ReasonPasswordChange = "password_change"
	ReasonPasswordReset  = "password_reset"
	ReasonDeactivated    = "account_deactivated"
	ReasonExpired        = "session_expired"
)

// TokenPair is what a successful login or refresh hands back to the client
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Metadata describes the client a session was created for
type Metadata struct {
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// Manager coordinates the durable session rows, their Redis mirrors, and
// token issuance.
type Manager struct {
	store   store.Store
	cache   *cache.Client
	tokens  *token.Service
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewManager creates a session manager. A nil clock uses the real clock; a
// nil audit logger discards events.
func NewManager(st store.Store, c *cache.Client, tokens *token.Service, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics, auditLogger audit.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Manager{
		store:   st,
		cache:   c,
		tokens:  tokens,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		audit:   auditLogger,
	}
}

// Create opens a new session for the principal and issues its token pair.
// The session ID doubles as the refresh token's jti.
func (m *Manager) Create(ctx context.Context, p *store.Principal, meta Metadata) (*TokenPair, *store.Session, error) {
	now := m.clock.Now().UTC()
	sessionID := uuid.NewString()
	tenantID := ""
	if p.TenantID != nil {
		tenantID = *p.TenantID
	}

	accessToken, accessJTI, err := m.tokens.IssueAccess(p.ID, string(p.Role), tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	refreshToken, _, err := m.tokens.IssueRefresh(p.ID, string(p.Role), tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	sess := &store.Session{
		ID:         sessionID,
		UserID:     p.ID,
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.tokens.RefreshLifetime()),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("persisting session: %w", err)
	}

	rec := &cache.SessionRecord{
		SessionID: sessionID,
		UserID:    p.ID,
		Role:      string(p.Role),
		TenantID:  tenantID,
		AccessJTI: accessJTI,
		IssuedAt:  now,
		ExpiresAt: sess.ExpiresAt,
	}
	if err := m.cache.PutSession(ctx, rec, m.tokens.RefreshLifetime()); err != nil {
		return nil, nil, fmt.Errorf("mirroring session: %w", err)
	}

	if m.metrics != nil {
		m.metrics.TokenIssuedTotal.WithLabelValues(token.TypeAccess).Inc()
		m.metrics.TokenIssuedTotal.WithLabelValues(token.TypeRefresh).Inc()
	}

	return m.pair(accessToken, refreshToken), sess, nil
}

// Refresh rotates a refresh token: exactly one concurrent caller gets a new
// pair, every other presentation of the same token fails ErrSessionRevoked.
// Rotation supersedes the old session: its access token is blacklisted and a
// successor session is created.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta Metadata) (*TokenPair, error) {
	claims, err := m.tokens.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		m.countRotation("rejected")
		return nil, err
	}
	userID, oldSessionID := claims.Subject, claims.SessionID
	now := m.clock.Now().UTC()

	rec, err := m.cache.ClaimSession(ctx, userID, oldSessionID)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, m.classifyMissedClaim(ctx, userID, oldSessionID, meta)
		}
		m.countRotation("error")
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	// the claim won: retire the old lineage
	if err := m.blacklistPair(ctx, rec, now); err != nil {
		m.countRotation("error")
		return nil, err
	}
	if err := m.store.RevokeSession(ctx, oldSessionID, now); err != nil && !errors.Is(err, store.ErrAlreadyRevoked) {
		m.countRotation("error")
		return nil, fmt.Errorf("retiring rotated session: %w", err)
	}

	p, err := m.store.GetPrincipalByID(ctx, userID)
	if err != nil {
		m.countRotation("error")
		return nil, fmt.Errorf("loading principal for rotation: %w", err)
	}
	if !p.IsActive {
		m.countRotation("rejected")
		return nil, ErrSessionRevoked
	}

	pair, _, err := m.Create(ctx, p, meta)
	if err != nil {
		m.countRotation("error")
		return nil, err
	}

	m.countRotation("success")
	ev := audit.NewEvent(ctx, audit.EventTypeRefresh, audit.EventStatusSuccess)
	ev.UserID = userID
	ev.TargetID = oldSessionID
	ev.IPAddress = orUnknown(meta.IPAddress)
	ev.UserAgent = meta.UserAgent
	m.audit.Log(ctx, ev)

	return pair, nil
}

// classifyMissedClaim distinguishes a replayed rotation from a plainly
// unknown session. The blacklist check fails closed.
func (m *Manager) classifyMissedClaim(ctx context.Context, userID, sessionID string, meta Metadata) error {
	blacklisted, err := m.cache.IsTokenBlacklisted(ctx, sessionID)
	if err != nil {
		m.countRotation("error")
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if blacklisted {
		m.countRotation("replayed")
		ev := audit.NewEvent(ctx, audit.EventTypeRefreshReplayed, audit.EventStatusDenied)
		ev.UserID = userID
		ev.TargetID = sessionID
		ev.IPAddress = orUnknown(meta.IPAddress)
		ev.UserAgent = meta.UserAgent
		m.audit.Log(ctx, ev)
		return ErrSessionRevoked
	}

	// Fall back to the durable row. A row that exists while its mirror is
	// gone means the token was consumed or revoked: a concurrent rotation
	// may not have stamped RevokedAt yet, so existence alone is revocation.
	_, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.countRotation("rejected")
			return ErrSessionNotFound
		}
		m.countRotation("error")
		return fmt.Errorf("checking durable session: %w", err)
	}
	m.countRotation("rejected")
	return ErrSessionRevoked
}

// Revoke terminates a session and propagates to its live access token via
// the blacklist. Revoking an already-revoked session succeeds (idempotent).
func (m *Manager) Revoke(ctx context.Context, userID, sessionID, reason string) error {
	now := m.clock.Now().UTC()

	if rec, err := m.cache.GetSession(ctx, userID, sessionID); err == nil {
		if err := m.blacklistPair(ctx, rec, now); err != nil {
			return err
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := m.cache.DeleteSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	err := m.store.RevokeSession(ctx, sessionID, now)
	switch {
	case errors.Is(err, store.ErrAlreadyRevoked):
		// idempotent
	case errors.Is(err, store.ErrNotFound):
		return ErrSessionNotFound
	case err != nil:
		return fmt.Errorf("revoking session: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsRevokedTotal.WithLabelValues(reason).Inc()
	}
	ev := audit.NewEvent(ctx, audit.EventTypeSessionRevoked, audit.EventStatusSuccess)
	ev.UserID = userID
	ev.TargetID = sessionID
	ev.Detail = reason
	m.audit.Log(ctx, ev)
	return nil
}

// RevokeAllForUser revokes every active session for a user except exceptID
// (empty revokes all). Returns the revoked session IDs.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, exceptID, reason string) ([]string, error) {
	now := m.clock.Now().UTC()

	ids, err := m.store.RevokeUserSessions(ctx, userID, exceptID, now)
	if err != nil {
		return nil, fmt.Errorf("revoking user sessions: %w", err)
	}

	for _, id := range ids {
		if rec, err := m.cache.GetSession(ctx, userID, id); err == nil {
			if err := m.blacklistPair(ctx, rec, now); err != nil {
				return ids, err
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			return ids, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		if err := m.cache.DeleteSession(ctx, userID, id); err != nil {
			return ids, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		if m.metrics != nil {
			m.metrics.SessionsRevokedTotal.WithLabelValues(reason).Inc()
		}
	}

	if len(ids) > 0 {
		ev := audit.NewEvent(ctx, audit.EventTypeSessionRevoked, audit.EventStatusSuccess)
		ev.UserID = userID
		ev.Detail = fmt.Sprintf("%s (%d sessions)", reason, len(ids))
		m.audit.Log(ctx, ev)
	}
	return ids, nil
}

// Authenticate verifies an access token and checks it against the
// blacklist. A cache outage denies the request (fail closed).
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := m.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		m.countVerification(token.TypeAccess, "invalid")
		return nil, err
	}

	blacklisted, err := m.cache.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		m.countVerification(token.TypeAccess, "error")
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if blacklisted {
		m.countVerification(token.TypeAccess, "revoked")
		return nil, ErrSessionRevoked
	}

	m.countVerification(token.TypeAccess, "ok")
	return claims, nil
}

// ListSessions returns the user's durable session records, newest first
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	return m.store.ListSessions(ctx, userID)
}

// blacklistPair blacklists a session record's access token for its remaining
// lifetime and its refresh jti until the session would have expired.
func (m *Manager) blacklistPair(ctx context.Context, rec *cache.SessionRecord, now time.Time) error {
	if rec.AccessJTI != "" {
		if err := m.cache.BlacklistToken(ctx, rec.AccessJTI, m.tokens.AccessLifetime()); err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	remaining := rec.ExpiresAt.Sub(now)
	if err := m.cache.BlacklistToken(ctx, rec.SessionID, remaining); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (m *Manager) pair(accessToken, refreshToken string) *TokenPair {
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.tokens.AccessLifetime().Seconds()),
	}
}

func (m *Manager) countRotation(status string) {
	if m.metrics != nil {
		m.metrics.RefreshRotationsTotal.WithLabelValues(status).Inc()
	}
}

func (m *Manager) countVerification(typ, status string) {
	if m.metrics != nil {
		m.metrics.TokenVerificationsTotal.WithLabelValues(typ, status).Inc()
	}
}

func orUnknown(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}
