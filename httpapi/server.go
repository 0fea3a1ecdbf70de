// Package httpapi is the HTTP transport for the PIN login, password reset
// and share-code flows.
//
// Routes:
//
//	POST   /api/auth/pin-challenge            password step, returns the PIN challenge
//	PUT    /api/auth/pin-challenge            PIN verify, returns the verification token
//	POST   /api/auth/password-reset/request   always {"success":true}
//	POST   /api/auth/password-reset/reset
//	POST   /api/auth/password-reset/validate
//	POST   /api/public/verify-share-code      sets the share-access cookie
//	GET    /api/public/share-access           behind the share gate
//	GET    /api/admin/share-codes             admin bearer token required
//	POST   /api/admin/share-codes
//	PATCH  /api/admin/share-codes/{id}
//	DELETE /api/admin/share-codes/{id}
//	GET    /metrics
//	GET    /healthz
//
// Error bodies are {"error": CODE} with optional "details" and "retryAfter".
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
	"github.com/gorilla/mux"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/middleware"
	"go.uber.org/zap"
)

// Options configures [New]. Engine is required.
type Options struct {
	Engine *pjutsauth.Engine
	// Resolver authenticates admin bearer tokens. Without one every admin
	// route answers 401.
	Resolver middleware.PrincipalResolver
	Logger   *zap.Logger
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Health is probed by /healthz. A nil Health always reports ok.
	Health func(ctx context.Context) error

	// RequestsPerSecond is a coarse per-IP throttle in front of /api. Zero
	// disables it; the engine's own limiters still apply.
	RequestsPerSecond float64
	Burst             int

	Now func() time.Time
}

// Server holds the handlers. Build it with [New] and serve [Server.Handler].
type Server struct {
	engine   *pjutsauth.Engine
	resolver middleware.PrincipalResolver
	cookie   middleware.ShareCookie
	logger   *zap.Logger
	metrics  http.Handler
	health   func(ctx context.Context) error
	now      func() time.Time
	throttle *limiter.Limiter
}

func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		engine:   opts.Engine,
		resolver: opts.Resolver,
		cookie:   middleware.ShareCookieFromConfig(opts.Engine.Config().ShareCode),
		logger:   opts.Logger.Named("http"),
		metrics:  opts.Metrics,
		health:   opts.Health,
		now:      opts.Now,
	}

	if opts.RequestsPerSecond > 0 {
		lmt := tollbooth.NewLimiter(opts.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
		lmt.SetIPLookups([]string{"X-Forwarded-For", "RemoteAddr"})
		if opts.Burst > 0 {
			lmt.SetBurst(opts.Burst)
		}
		lmt.SetMessageContentType("application/json")
		lmt.SetMessage(`{"error":"` + pjutsauth.CodeRateLimited + `"}`)
		lmt.SetOnLimitReached(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
		})
		s.throttle = lmt
	}
	return s, nil
}

// Handler returns the routed handler wrapped in panic recovery and request
// logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, pjutsauth.CodeNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	})

	api := r.PathPrefix("/api").Subrouter()
	if s.throttle != nil {
		api.Use(s.throttleMiddleware)
	}
	api.Use(requestContext)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/pin-challenge", s.requestPinChallenge).Methods(http.MethodPost)
	auth.HandleFunc("/pin-challenge", s.verifyPinChallenge).Methods(http.MethodPut)
	auth.HandleFunc("/password-reset/request", s.requestPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/reset", s.resetPassword).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/validate", s.validateResetToken).Methods(http.MethodPost)

	public := api.PathPrefix("/public").Subrouter()
	public.HandleFunc("/verify-share-code", s.verifyShareCode).Methods(http.MethodPost)
	public.Handle("/share-access", middleware.ShareGate(s.engine, s.cookie)(http.HandlerFunc(s.shareAccess))).
		Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.Guard(s.resolver), middleware.RequireAdmin)
	admin.HandleFunc("/share-codes", s.listShareCodes).Methods(http.MethodGet)
	admin.HandleFunc("/share-codes", s.createShareCode).Methods(http.MethodPost)
	admin.HandleFunc("/share-codes/{id}", s.toggleShareCode).Methods(http.MethodPatch)
	admin.HandleFunc("/share-codes/{id}", s.deleteShareCode).Methods(http.MethodDelete)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	return recoverer(s.logger)(requestLogging(s.logger)(r))
}

func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return tollbooth.LimitHandler(s.throttle, next)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "time": s.now().UTC().Format(time.RFC3339)}
	if s.health == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
