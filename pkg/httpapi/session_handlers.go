package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/contextkeys"
	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/middleware"
)

// SessionHandlers lets users inspect and revoke their own sessions
type SessionHandlers struct {
	accounts *accounts.Service
	authn    *middleware.Authenticator
}

// RegisterRoutes registers session routes
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/sessions", h.authn.Handler(http.HandlerFunc(h.listSessions))).Methods("GET")
	router.Handle("/v1/sessions/{id}", h.authn.Handler(http.HandlerFunc(h.revokeSession))).Methods("DELETE")
}

// listSessions handles GET /v1/sessions
func (h *SessionHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.accounts.ListSessions(r.Context(), contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": sessions})
}

// revokeSession handles DELETE /v1/sessions/{id}. Users can only revoke
// their own sessions: the revocation is keyed on the caller's user ID, so a
// foreign session ID comes back not found.
func (h *SessionHandlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	userID := contextkeys.GetUserID(r.Context())

	sessions, err := h.accounts.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	owned := false
	for _, s := range sessions {
		if s.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		httputil.WriteErrorCode(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return
	}

	if err := h.accounts.Logout(r.Context(), userID, sessionID, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
