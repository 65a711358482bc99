package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/contextkeys"
	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/session"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/token"
)

// Authenticator gates protected routes behind a live access token
type Authenticator struct {
	sessions *session.Manager
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(sessions *session.Manager) *Authenticator {
	return &Authenticator{sessions: sessions}
}

// Handler verifies the bearer token and stashes the principal, user ID, and
// session ID in the request context. A blacklist outage is a 503, not a 401:
// the token may be fine, we just cannot prove it is still live.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := httputil.BearerToken(r)
		if raw == "" {
			httputil.WriteUnauthorized(w, "TOKEN_MISSING", "missing bearer token")
			return
		}

		claims, err := a.sessions.Authenticate(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrCacheUnavailable):
				httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
			case errors.Is(err, token.ErrTokenExpired):
				httputil.WriteUnauthorized(w, "TOKEN_EXPIRED", "access token expired")
			case errors.Is(err, session.ErrSessionRevoked):
				httputil.WriteUnauthorized(w, "SESSION_REVOKED", "session has been revoked")
			default:
				httputil.WriteUnauthorized(w, "TOKEN_INVALID", "invalid access token")
			}
			return
		}

		p := permission.Principal{
			UserID:   claims.Subject,
			Role:     store.Role(claims.Role),
			TenantID: claims.TenantID,
		}
		ctx := contextkeys.WithPrincipal(r.Context(), &p)
		ctx = contextkeys.WithUserID(ctx, claims.Subject)
		ctx = contextkeys.WithSessionID(ctx, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext retrieves the authenticated principal set by
// Authenticator.Handler.
func PrincipalFromContext(ctx context.Context) (*permission.Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*permission.Principal)
	return p, ok
}

// TargetFunc derives the permission target from the request, e.g. a tenant ID
// from the URL path. A nil TargetFunc checks against an empty target.
type TargetFunc func(r *http.Request) permission.Target

// RequirePermission denies the request with 403 unless the resolver allows
// the principal to perform action on resource. Denials are audited; a nil
// auditLogger falls back to the request context's logger.
func RequirePermission(resolver *permission.Resolver, auditLogger audit.Logger, resource, action string, targetFn TargetFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "TOKEN_MISSING", "missing bearer token")
				return
			}

			var target permission.Target
			if targetFn != nil {
				target = targetFn(r)
			}

			allowed, err := resolver.Check(r.Context(), *p, resource, action, target)
			if err != nil {
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				ev := audit.NewEvent(r.Context(), audit.EventTypeAccessDenied, audit.EventStatusDenied)
				ev.UserID = p.UserID
				ev.IPAddress = httputil.ClientIP(r)
				ev.UserAgent = httputil.UserAgent(r)
				ev.Detail = resource + ":" + action
				al := auditLogger
				if al == nil {
					al = audit.FromContext(r.Context())
				}
				al.Log(r.Context(), ev)
				httputil.WriteForbidden(w, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
