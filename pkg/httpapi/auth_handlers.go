package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/contextkeys"
	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/middleware"
	"github.com/paddleraise/authcore/pkg/ratelimit"
	"github.com/paddleraise/authcore/pkg/session"
)

// AuthHandlers handles the public authentication endpoints
type AuthHandlers struct {
	accounts *accounts.Service
	limiter  *ratelimit.Limiter
	authn    *middleware.Authenticator
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/auth/register",
		h.limited(ratelimit.ClassRegister, http.HandlerFunc(h.register))).Methods("POST")
	router.Handle("/v1/auth/login",
		h.limited(ratelimit.ClassLogin, http.HandlerFunc(h.login))).Methods("POST")
	router.HandleFunc("/v1/auth/refresh", h.refresh).Methods("POST")
	router.Handle("/v1/auth/verify-email",
		h.limited(ratelimit.ClassEmailVerify, http.HandlerFunc(h.verifyEmail))).Methods("POST")
	router.Handle("/v1/auth/password/reset-request",
		h.limited(ratelimit.ClassPasswordReset, http.HandlerFunc(h.resetRequest))).Methods("POST")
	router.HandleFunc("/v1/auth/password/reset-confirm", h.resetConfirm).Methods("POST")

	router.Handle("/v1/auth/logout", h.authn.Handler(http.HandlerFunc(h.logout))).Methods("POST")
	router.Handle("/v1/auth/password/change", h.authn.Handler(http.HandlerFunc(h.changePassword))).Methods("POST")
	router.Handle("/v1/me", h.authn.Handler(http.HandlerFunc(h.me))).Methods("GET")
}

func (h *AuthHandlers) limited(class ratelimit.EndpointClass, next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return middleware.RateLimit(h.limiter, class, nil)(next)
}

func requestMetadata(r *http.Request) session.Metadata {
	return session.Metadata{
		IPAddress: httputil.ClientIP(r),
		UserAgent: httputil.UserAgent(r),
	}
}

// register handles POST /v1/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "MISSING_FIELDS", "email and password are required")
		return
	}

	p, err := h.accounts.Register(r.Context(), req.Email, req.Password, requestMetadata(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, p)
}

// login handles POST /v1/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}

	pair, p, err := h.accounts.Login(r.Context(), req.Email, req.Password, requestMetadata(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		*session.TokenPair
		User interface{} `json:"user"`
	}{pair, p})
}

// refresh handles POST /v1/auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "MISSING_FIELDS", "refresh_token is required")
		return
	}

	pair, err := h.accounts.Refresh(r.Context(), req.RefreshToken, requestMetadata(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// verifyEmail handles POST /v1/auth/verify-email
func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}
	if req.Token == "" {
		httputil.WriteBadRequest(w, "MISSING_FIELDS", "token is required")
		return
	}

	if err := h.accounts.VerifyEmail(r.Context(), req.Token, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "verified"})
}

// logout handles POST /v1/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	sessionID := contextkeys.GetSessionID(r.Context())

	if err := h.accounts.Logout(r.Context(), userID, sessionID, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// changePassword handles POST /v1/auth/password/change
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}

	userID := contextkeys.GetUserID(r.Context())
	sessionID := contextkeys.GetSessionID(r.Context())

	if err := h.accounts.ChangePassword(r.Context(), userID, sessionID, req.CurrentPassword, req.NewPassword, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "password changed"})
}

// resetRequest handles POST /v1/auth/password/reset-request
func (h *AuthHandlers) resetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "MISSING_FIELDS", "email is required")
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	// identical response whether or not the address is registered
	httputil.WriteSuccess(w, map[string]string{"status": "if the address is registered, a reset email has been sent"})
}

// resetConfirm handles POST /v1/auth/password/reset-confirm
func (h *AuthHandlers) resetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "INVALID_BODY", err.Error())
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		httputil.WriteBadRequest(w, "MISSING_FIELDS", "token and new_password are required")
		return
	}

	if err := h.accounts.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, requestMetadata(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "password reset"})
}

// me handles GET /v1/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	p, err := h.accounts.GetPrincipal(r.Context(), contextkeys.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}
