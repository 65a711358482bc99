package httpapi

import (
	"errors"
	"net/http"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/password"
	"github.com/paddleraise/authcore/pkg/session"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/token"
)

// writeServiceError maps service-layer errors to HTTP responses with stable
// codes. Anything unrecognized is a 500 with a generic body.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrEmailTaken):
		httputil.WriteConflict(w, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, accounts.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "INVALID_CREDENTIALS", "invalid email or password")
	case errors.Is(err, accounts.ErrEmailNotVerified):
		httputil.WriteForbidden(w, "EMAIL_NOT_VERIFIED", "email address not verified")
	case errors.Is(err, accounts.ErrAccountDeactivated):
		httputil.WriteForbidden(w, "ACCOUNT_DEACTIVATED", "account is deactivated")
	case errors.Is(err, accounts.ErrInvalidEmail):
		httputil.WriteBadRequest(w, "INVALID_EMAIL", "invalid email address")
	case errors.Is(err, accounts.ErrInvalidToken):
		httputil.WriteBadRequest(w, "INVALID_TOKEN", "invalid or expired token")
	case errors.Is(err, accounts.ErrUnknownRole):
		httputil.WriteBadRequest(w, "UNKNOWN_ROLE", "unknown role")
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordNoLetter),
		errors.Is(err, password.ErrPasswordNoDigit):
		httputil.WriteBadRequest(w, "WEAK_PASSWORD", err.Error())
	case errors.Is(err, session.ErrCacheUnavailable):
		httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
	case errors.Is(err, session.ErrSessionRevoked):
		httputil.WriteUnauthorized(w, "SESSION_REVOKED", "session has been revoked")
	case errors.Is(err, session.ErrSessionNotFound):
		httputil.WriteUnauthorized(w, "SESSION_NOT_FOUND", "session not found")
	case errors.Is(err, token.ErrTokenExpired):
		httputil.WriteUnauthorized(w, "TOKEN_EXPIRED", "token expired")
	case errors.Is(err, token.ErrTokenMalformed), errors.Is(err, token.ErrWrongTokenType):
		httputil.WriteUnauthorized(w, "TOKEN_INVALID", "invalid token")
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, "NOT_FOUND", "not found")
	default:
		httputil.WriteInternalError(w)
	}
}
