// Package accounts orchestrates the account-facing auth flows: registration
// with email verification, login, logout, password lifecycle, role
// assignment, and session listings. It is the layer HTTP handlers call.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/email"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/password"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/session"
	"github.com/paddleraise/authcore/pkg/store"
)

var (
	// ErrEmailTaken is returned when registering an already-registered email
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for any bad email/password pair.
	// Deliberately uniform: callers cannot distinguish unknown email from
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned when registering with an unusable address
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrEmailNotVerified is returned when logging in before verification
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountDeactivated is returned when logging in to a deactivated account
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrInvalidToken is returned for unknown, expired, or already-used
	// verification and reset tokens
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnknownRole is returned when assigning a role outside the fixed set
	ErrUnknownRole = errors.New("unknown role")
)

// Config holds the single-use token lifetimes
type Config struct {
	VerifyTokenLifetime time.Duration
	ResetTokenLifetime  time.Duration
}

// Service wires the auth flows together
type Service struct {
	cfg      Config
	store    store.Store
	cache    *cache.Client
	sessions *session.Manager
	resolver *permission.Resolver
	hasher   *password.Hasher
	sender   email.Sender
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
}

// NewService creates the orchestrator. A nil clock uses the real clock; a
// nil audit logger discards events.
func NewService(cfg Config, st store.Store, c *cache.Client, sessions *session.Manager, resolver *permission.Resolver, hasher *password.Hasher, sender email.Sender, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if cfg.VerifyTokenLifetime == 0 {
		cfg.VerifyTokenLifetime = 24 * time.Hour
	}
	if cfg.ResetTokenLifetime == 0 {
		cfg.ResetTokenLifetime = time.Hour
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		cache:    c,
		sessions: sessions,
		resolver: resolver,
		hasher:   hasher,
		sender:   sender,
		audit:    auditLogger,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
	}
}

// NormalizeEmail lowercases and trims an email address; lookup and storage
// always use the normalized form.
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Register creates a new donor account and sends its verification email.
// The account stays inactive until the email is verified.
func (s *Service) Register(ctx context.Context, rawEmail, pwd string, meta session.Metadata) (*store.Principal, error) {
	addr := NormalizeEmail(rawEmail)
	if addr == "" || !strings.Contains(addr, "@") {
		return nil, ErrInvalidEmail
	}
	if err := password.ValidateStrength(pwd); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(pwd)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	p := &store.Principal{
		ID:           uuid.NewString(),
		Email:        addr,
		PasswordHash: hash,
		Role:         store.RoleDonor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			s.countRegistration("duplicate")
			return nil, ErrEmailTaken
		}
		s.countRegistration("error")
		return nil, err
	}

	if err := s.issueVerification(ctx, p); err != nil && s.logger != nil {
		// the account exists; verification can be re-requested
		s.logger.WithError(err).WithField("user_id", p.ID).Warn("verification email not issued")
	}

	s.countRegistration("success")
	s.auditEvent(ctx, audit.EventTypeRegister, audit.EventStatusSuccess, p.ID, "", meta, "")
	return p, nil
}

func (s *Service) issueVerification(ctx context.Context, p *store.Principal) error {
	tok, err := password.GenerateToken()
	if err != nil {
		return err
	}
	if err := s.cache.PutSingleUseToken(ctx, cache.TokenFamilyEmailVerify, password.HashToken(tok), p.ID, s.cfg.VerifyTokenLifetime); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, p.Email, email.TemplateVerifyEmail, map[string]string{"token": tok}); err != nil {
		return err
	}
	return nil
}

// VerifyEmail consumes a verification token and activates the account. The
// token burns on first presentation regardless of what happens after.
func (s *Service) VerifyEmail(ctx context.Context, tok string, meta session.Metadata) error {
	userID, err := s.cache.ConsumeSingleUseToken(ctx, cache.TokenFamilyEmailVerify, password.HashToken(tok))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return ErrInvalidToken
		}
		return err
	}

	verified, active := true, true
	if err := s.store.UpdatePrincipal(ctx, userID, store.PrincipalPatch{
		EmailVerified: &verified,
		IsActive:      &active,
	}); err != nil {
		return fmt.Errorf("activating account: %w", err)
	}

	s.auditEvent(ctx, audit.EventTypeEmailVerified, audit.EventStatusSuccess, userID, "", meta, "")
	return nil
}

// Login authenticates a credential pair and opens a session. Credential
// failures are uniform; account-state failures are distinct but only
// reachable with a correct password.
func (s *Service) Login(ctx context.Context, rawEmail, pwd string, meta session.Metadata) (*session.TokenPair, *store.Principal, error) {
	addr := NormalizeEmail(rawEmail)

	p, err := s.store.GetPrincipalByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.failLogin(ctx, "", meta, "unknown email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := s.hasher.Compare(p.PasswordHash, pwd); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			s.failLogin(ctx, p.ID, meta, "wrong password")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if !p.EmailVerified {
		s.failLogin(ctx, p.ID, meta, "email not verified")
		return nil, nil, ErrEmailNotVerified
	}
	if !p.IsActive {
		s.failLogin(ctx, p.ID, meta, "account deactivated")
		return nil, nil, ErrAccountDeactivated
	}

	pair, _, err := s.sessions.Create(ctx, p, meta)
	if err != nil {
		s.countLogin("error")
		return nil, nil, err
	}

	now := s.clock.Now().UTC()
	if err := s.store.UpdatePrincipal(ctx, p.ID, store.PrincipalPatch{LastLoginAt: &now}); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("user_id", p.ID).Warn("last login timestamp not updated")
	}
	p.LastLoginAt = &now

	s.countLogin("success")
	s.auditEvent(ctx, audit.EventTypeLogin, audit.EventStatusSuccess, p.ID, "", meta, "")
	return pair, p, nil
}

// Logout revokes the session behind the presented access token. Logging out
// of an already-dead session succeeds.
func (s *Service) Logout(ctx context.Context, userID, sessionID string, meta session.Metadata) error {
	err := s.sessions.Revoke(ctx, userID, sessionID, session.ReasonLogout)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	s.auditEvent(ctx, audit.EventTypeLogout, audit.EventStatusSuccess, userID, sessionID, meta, "")
	return nil
}

// Refresh rotates a refresh token
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta session.Metadata) (*session.TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken, meta)
}

// ChangePassword verifies the current password, sets the new one, and
// revokes every other session so stolen refresh tokens die with the old
// credential. The calling session survives.
func (s *Service) ChangePassword(ctx context.Context, userID, currentSessionID, oldPwd, newPwd string, meta session.Metadata) error {
	p, err := s.store.GetPrincipalByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(p.PasswordHash, oldPwd); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			s.auditEvent(ctx, audit.EventTypePasswordChange, audit.EventStatusFailure, userID, "", meta, "wrong current password")
			return ErrInvalidCredentials
		}
		return err
	}
	if err := password.ValidateStrength(newPwd); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPwd)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePrincipal(ctx, userID, store.PrincipalPatch{PasswordHash: &hash}); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, currentSessionID, session.ReasonPasswordChange); err != nil {
		return err
	}

	s.auditEvent(ctx, audit.EventTypePasswordChange, audit.EventStatusSuccess, userID, "", meta, "")
	return nil
}

// RequestPasswordReset issues a reset token when the email belongs to an
// active account. The response is identical either way: this endpoint never
// confirms whether an email is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string, meta session.Metadata) error {
	addr := NormalizeEmail(rawEmail)

	p, err := s.store.GetPrincipalByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.auditEvent(ctx, audit.EventTypePasswordResetRequest, audit.EventStatusSuccess, "", "", meta, "unknown email")
			return nil
		}
		return err
	}
	if !p.IsActive {
		s.auditEvent(ctx, audit.EventTypePasswordResetRequest, audit.EventStatusSuccess, p.ID, "", meta, "inactive account")
		return nil
	}

	tok, err := password.GenerateToken()
	if err != nil {
		return err
	}
	if err := s.cache.PutSingleUseToken(ctx, cache.TokenFamilyPasswordReset, password.HashToken(tok), p.ID, s.cfg.ResetTokenLifetime); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, p.Email, email.TemplatePasswordReset, map[string]string{"token": tok}); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("user_id", p.ID).Warn("reset email not sent")
	}

	s.auditEvent(ctx, audit.EventTypePasswordResetRequest, audit.EventStatusSuccess, p.ID, "", meta, "")
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
// The token burns before the new password is validated: a failed attempt
// requires requesting a fresh token. All sessions are revoked.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tok, newPwd string, meta session.Metadata) error {
	userID, err := s.cache.ConsumeSingleUseToken(ctx, cache.TokenFamilyPasswordReset, password.HashToken(tok))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			s.auditEvent(ctx, audit.EventTypePasswordResetConfirm, audit.EventStatusFailure, "", "", meta, "invalid token")
			return ErrInvalidToken
		}
		return err
	}

	if err := password.ValidateStrength(newPwd); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPwd)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePrincipal(ctx, userID, store.PrincipalPatch{PasswordHash: &hash}); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, "", session.ReasonPasswordReset); err != nil {
		return err
	}

	s.auditEvent(ctx, audit.EventTypePasswordResetConfirm, audit.EventStatusSuccess, userID, "", meta, "")
	return nil
}

// AssignRole changes a user's role and tenant binding, then invalidates
// their cached permission decisions so the change is visible immediately.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID string, role store.Role, tenantID *string, meta session.Metadata) error {
	if !role.Valid() {
		return ErrUnknownRole
	}

	patch := store.PrincipalPatch{Role: &role}
	if tenantID != nil {
		patch.TenantID = tenantID
	}
	if err := s.store.UpdatePrincipal(ctx, targetID, patch); err != nil {
		return err
	}

	if err := s.resolver.InvalidateUser(ctx, targetID); err != nil && s.logger != nil {
		// decisions self-expire within the cache TTL
		s.logger.WithError(err).WithField("user_id", targetID).Warn("permission cache invalidation failed")
	}

	ev := audit.NewEvent(ctx, audit.EventTypeRoleChange, audit.EventStatusSuccess)
	ev.UserID = actorID
	ev.TargetID = targetID
	ev.IPAddress = ipOrUnknown(meta.IPAddress)
	ev.UserAgent = meta.UserAgent
	ev.Detail = string(role)
	s.audit.Log(ctx, ev)
	return nil
}

// Deactivate disables an account and kills all of its sessions
func (s *Service) Deactivate(ctx context.Context, actorID, targetID string, meta session.Metadata) error {
	inactive := false
	if err := s.store.UpdatePrincipal(ctx, targetID, store.PrincipalPatch{IsActive: &inactive}); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, targetID, "", session.ReasonDeactivated); err != nil {
		return err
	}
	if err := s.resolver.InvalidateUser(ctx, targetID); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("user_id", targetID).Warn("permission cache invalidation failed")
	}

	ev := audit.NewEvent(ctx, audit.EventTypeDeactivated, audit.EventStatusSuccess)
	ev.UserID = actorID
	ev.TargetID = targetID
	ev.IPAddress = ipOrUnknown(meta.IPAddress)
	s.audit.Log(ctx, ev)
	return nil
}

// Reactivate re-enables a deactivated account. The user logs in again;
// no sessions are resurrected.
func (s *Service) Reactivate(ctx context.Context, actorID, targetID string, meta session.Metadata) error {
	active := true
	if err := s.store.UpdatePrincipal(ctx, targetID, store.PrincipalPatch{IsActive: &active}); err != nil {
		return err
	}

	ev := audit.NewEvent(ctx, audit.EventTypeReactivated, audit.EventStatusSuccess)
	ev.UserID = actorID
	ev.TargetID = targetID
	ev.IPAddress = ipOrUnknown(meta.IPAddress)
	s.audit.Log(ctx, ev)
	return nil
}

// ListSessions returns a user's durable session records
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	return s.sessions.ListSessions(ctx, userID)
}

// ListAudit returns a user's most recent audit records, newest first
func (s *Service) ListAudit(ctx context.Context, userID string, limit int) ([]*store.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListAudit(ctx, userID, limit)
}

// GetPrincipal fetches an account by ID
func (s *Service) GetPrincipal(ctx context.Context, userID string) (*store.Principal, error) {
	return s.store.GetPrincipalByID(ctx, userID)
}

func (s *Service) failLogin(ctx context.Context, userID string, meta session.Metadata, detail string) {
	s.countLogin("failure")
	s.auditEvent(ctx, audit.EventTypeLoginFailed, audit.EventStatusFailure, userID, "", meta, detail)
}

func (s *Service) auditEvent(ctx context.Context, typ audit.EventType, status audit.EventStatus, userID, targetID string, meta session.Metadata, detail string) {
	ev := audit.NewEvent(ctx, typ, status)
	ev.UserID = userID
	ev.TargetID = targetID
	ev.IPAddress = ipOrUnknown(meta.IPAddress)
	ev.UserAgent = meta.UserAgent
	ev.Detail = detail
	s.audit.Log(ctx, ev)
}

func (s *Service) countLogin(status string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(status).Inc()
	}
}

func (s *Service) countRegistration(status string) {
	if s.metrics != nil {
		s.metrics.RegistrationsTotal.WithLabelValues(status).Inc()
	}
}

func ipOrUnknown(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}
