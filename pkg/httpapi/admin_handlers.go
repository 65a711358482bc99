package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/middleware"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/store"
)

// AdminHandlers handles account administration: role assignment, activation,
// and audit trail access. Authorization is checked against the target user's
// tenant, so the permission gate runs inside the handler after the target is
// loaded.
type AdminHandlers struct {
	accounts *accounts.Service
	resolver *permission.Resolver
	audit    audit.Logger
	authn    *middleware.Authenticator
}

// RegisterRoutes registers administration routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/users/{id}", h.authn.Handler(http.HandlerFunc(h.getUser))).Methods("GET")
	router.Handle("/v1/users/{id}/role", h.authn.Handler(http.HandlerFunc(h.assignRole))).Methods("PUT")
	router.Handle("/v1/users/{id}/deactivate", h.authn.Handler(http.HandlerFunc(h.deactivate))).Methods("POST")
	router.Handle("/v1/users/{id}/reactivate", h.authn.Handler(http.HandlerFunc(h.reactivate))).Methods("POST")
	router.Handle("/v1/users/{id}/audit", h.authn.Handler(http.HandlerFunc(h.listAudit))).Methods("GET")
}

// loadTarget fetches the target user and authorizes the caller's action
// against it. Writes the error response itself when the request cannot
// proceed.
func (h *AdminHandlers) loadTarget(w http.ResponseWriter, r *http.Request, resource, action string) (*store.Principal, bool) {
	caller, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "TOKEN_MISSING", "missing bearer token")
		return nil, false
	}

	target, err := h.accounts.GetPrincipal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteErrorCode(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		} else {
			writeServiceError(w, err)
		}
		return nil, false
	}

	tenantID := ""
	if target.TenantID != nil {
		tenantID = *target.TenantID
	}
	allowed, err := h.resolver.Check(r.Context(), *caller, resource, action, permission.Target{
		TenantID: tenantID,
		OwnerID:  target.ID,
	})
	if err != nil {
		httputil.WriteInternalError(w)
		return nil, false
	}
	if !allowed {
		ev := audit.NewEvent(r.Context(), audit.EventTypeAccessDenied, audit.EventStatusDenied)
		ev.UserID = caller.UserID
		ev.TargetID = target.ID
		ev.IPAddress = httputil.ClientIP(r)
		ev.UserAgent = httputil.UserAgent(r)
		ev.Detail = resource + ":" + action
		h.audit.Log(r.Context(), ev)
		httputil.WriteForbidden(w, "FORBIDDEN", "insufficient permissions")
		return nil, false
	}
	return target, true
}

// getUser handles GET /v1/users/{id}
func (h *AdminHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r, "user", "read")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, target)
}

// assignRole handles PUT /v1/users/{id}/role
func (h *AdminHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role     string  `json:"role"`
		TenantID *string `json:"tenant_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}

	target, ok := h.loadTarget(w, r, "user", "manage")
	if !ok {
		return
	}

	caller, _ := middleware.PrincipalFromContext(r.Context())
	err := h.accounts.AssignRole(r.Context(), caller.UserID, target.ID, store.Role(req.Role), req.TenantID, requestMetadata(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "role assigned"})
}

// deactivate handles POST /v1/users/{id}/deactivate
func (h *AdminHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r, "user", "manage")
	if !ok {
		return
	}

	caller, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.accounts.Deactivate(r.Context(), caller.UserID, target.ID, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "deactivated"})
}

// reactivate handles POST /v1/users/{id}/reactivate
func (h *AdminHandlers) reactivate(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r, "user", "manage")
	if !ok {
		return
	}

	caller, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.accounts.Reactivate(r.Context(), caller.UserID, target.ID, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "reactivated"})
}

// listAudit handles GET /v1/users/{id}/audit
func (h *AdminHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r, "audit", "read")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.accounts.ListAudit(r.Context(), target.ID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": records})
}
