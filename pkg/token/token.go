// Package token issues and verifies the signed JWTs that carry session
// identity: short-lived access tokens and single-use refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Token types carried in the typ claim. Verification rejects a token
// presented as the wrong type.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrTokenExpired is returned when a token's exp has passed
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned for tokens that fail parsing, signature
	// verification, or claim validation
	ErrTokenMalformed = errors.New("token malformed")
	// ErrWrongTokenType is returned when an access token is presented where a
	// refresh token is expected, or vice versa
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims is the payload carried by both token types. SessionID links an
// access token to the session that issued it so revoking the session can
// blacklist the live access token too.
type Claims struct {
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id,omitempty"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Config holds signing parameters
type Config struct {
	Secret          []byte
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	ClockSkew       time.Duration
}

// Service signs and verifies tokens with a symmetric HS256 key
type Service struct {
	cfg   Config
	clock clockwork.Clock
}

// NewService creates a token service. A nil clock uses the real clock.
func NewService(cfg Config, clock clockwork.Clock) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &Service{cfg: cfg, clock: clock}, nil
}

// IssueAccess issues an access token bound to the given session. Returns the
// signed token and its jti.
func (s *Service) IssueAccess(userID, role, tenantID, sessionID string) (string, string, error) {
	return s.issue(TypeAccess, userID, role, tenantID, sessionID, s.cfg.AccessLifetime, uuid.NewString())
}

// IssueRefresh issues a refresh token whose jti IS the session ID: the
// session record is looked up by this value during rotation.
func (s *Service) IssueRefresh(userID, role, tenantID, sessionID string) (string, string, error) {
	return s.issue(TypeRefresh, userID, role, tenantID, sessionID, s.cfg.RefreshLifetime, sessionID)
}

func (s *Service) issue(typ, userID, role, tenantID, sessionID string, lifetime time.Duration, jti string) (string, string, error) {
	now := s.clock.Now()
	claims := Claims{
		Role:      role,
		TenantID:  tenantID,
		SessionID: sessionID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, jti, nil
}

// Verify parses and validates a token, enforcing signature, expiry, issuer,
// and the expected token type. Tokens with an iat more than the configured
// skew in the future are rejected as malformed.
func (s *Service) Verify(tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.cfg.Secret, nil
		},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithLeeway(s.cfg.ClockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != expectedType {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrTokenMalformed)
	}
	return claims, nil
}

// AccessLifetime reports the configured access token lifetime, used to bound
// blacklist TTLs.
func (s *Service) AccessLifetime() time.Duration {
	return s.cfg.AccessLifetime
}

// RefreshLifetime reports the configured refresh token lifetime
func (s *Service) RefreshLifetime() time.Duration {
	return s.cfg.RefreshLifetime
}
