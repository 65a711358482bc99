package store

import (
	"time"
)

// Role is one of the five fixed platform roles. The role set is seeded at
// install time and never mutated at runtime; authorization rules key off
// these names.
type Role string

const (
	RoleSuperAdmin       Role = "super_admin"
	RoleNPOAdmin         Role = "npo_admin"
	RoleEventCoordinator Role = "event_coordinator"
	RoleStaff            Role = "staff"
	RoleDonor            Role = "donor"
)

// Level returns the role's position in the hierarchy, higher is more
// privileged. Unknown roles return 0.
func (r Role) Level() int {
	switch r {
	case RoleSuperAdmin:
		return 5
	case RoleNPOAdmin:
		return 4
	case RoleEventCoordinator:
		return 3
	case RoleStaff:
		return 2
	case RoleDonor:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the seeded roles
func (r Role) Valid() bool {
	return r.Level() > 0
}

// Principal is a platform account. PasswordHash never crosses a serialization
// boundary: it is excluded from JSON and never logged.
type Principal struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	TenantID      *string   `json:"tenant_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PrincipalPatch carries the mutable fields of a Principal for partial
// updates; nil fields are left unchanged.
type PrincipalPatch struct {
	PasswordHash  *string
	Role          *Role
	TenantID      *string
	IsActive      *bool
	EmailVerified *bool
	LastLoginAt   *time.Time
}

// Session is the durable record of one refresh-token lineage. ID doubles as
// the refresh token's jti. A revoked session keeps its row for audit.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	DeviceInfo string     `json:"device_info,omitempty"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session is neither revoked nor expired at now
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AuditRecord is one append-only audit trail entry. Records are never
// updated or deleted.
type AuditRecord struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	UserID     string    `json:"user_id,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
