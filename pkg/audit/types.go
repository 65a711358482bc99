package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Account lifecycle
	EventTypeRegister        EventType = "account.register"
	EventTypeEmailVerified   EventType = "account.email_verified"
	EventTypeDeactivated     EventType = "account.deactivated"
	EventTypeReactivated     EventType = "account.reactivated"
	EventTypeRoleChange      EventType = "account.role_change"

	// Authentication
	EventTypeLogin           EventType = "auth.login"
	EventTypeLoginFailed     EventType = "auth.login_failed"
	EventTypeLogout          EventType = "auth.logout"
	EventTypeRefresh         EventType = "auth.refresh"
	EventTypeRefreshReplayed EventType = "auth.refresh_replayed"

	// Sessions
	EventTypeSessionRevoked  EventType = "session.revoked"
	EventTypeSessionExpired  EventType = "session.expired"

	// Password lifecycle
	EventTypePasswordChange       EventType = "password.change"
	EventTypePasswordResetRequest EventType = "password.reset_request"
	EventTypePasswordResetConfirm EventType = "password.reset_confirm"

	// Authorization
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit trail entry. IPAddress is always populated; the
// request layer substitutes "unknown" when the transport carries no address.
// Events never contain credentials or raw token strings.
type Event struct {
	ID         string      `json:"id"`
	EventType  EventType   `json:"event_type"`
	Status     EventStatus `json:"status"`
	UserID     string      `json:"user_id,omitempty"`
	TargetID   string      `json:"target_id,omitempty"`
	IPAddress  string      `json:"ip_address"`
	UserAgent  string      `json:"user_agent,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
