// Package httpapi exposes the authentication service over HTTP. Routing uses
// gorilla/mux; every response body is JSON with stable error codes.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/middleware"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/ratelimit"
	"github.com/paddleraise/authcore/pkg/session"
)

// Server is the public API surface
type Server struct {
	router   *mux.Router
	accounts *accounts.Service
	sessions *session.Manager
	resolver *permission.Resolver
	limiter  *ratelimit.Limiter
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates the API server and wires its routes
func NewServer(svc *accounts.Service, sessions *session.Manager, resolver *permission.Resolver, limiter *ratelimit.Limiter, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	s := &Server{
		router:   mux.NewRouter(),
		accounts: svc,
		sessions: sessions,
		resolver: resolver,
		limiter:  limiter,
		audit:    auditLogger,
		logger:   logger,
		metrics:  metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID))
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(audit.WithLogger(r.Context(), s.audit)))
		})
	})
	if s.logger != nil {
		s.router.Use(mux.MiddlewareFunc(middleware.Recover(s.logger)))
		s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))
	}
	if s.metrics != nil {
		s.router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(s.metrics)))
	}

	authn := middleware.NewAuthenticator(s.sessions)

	authHandlers := &AuthHandlers{accounts: s.accounts, limiter: s.limiter, authn: authn}
	authHandlers.RegisterRoutes(s.router)

	sessionHandlers := &SessionHandlers{accounts: s.accounts, authn: authn}
	sessionHandlers.RegisterRoutes(s.router)

	adminHandlers := &AdminHandlers{
		accounts: s.accounts,
		resolver: s.resolver,
		audit:    s.audit,
		authn:    authn,
	}
	adminHandlers.RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
