// Package httpapi wires the HTTP surface: the guarded authentication
// endpoints, the authenticated org and authorization endpoints, and the
// operational probes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/authz"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/guard"
	"github.com/cadencehq/cadence/internal/kv"
	"github.com/cadencehq/cadence/internal/obs"
	"github.com/cadencehq/cadence/internal/problem"
)

// Pinger reports backend connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API aggregates the service dependencies behind the router.
type API struct {
	cfg       config.Config
	auth      *auth.Service
	resolver  *authz.Resolver
	bootstrap *authz.Bootstrapper
	guard     *guard.Guard
	dbPing    Pinger
	kvPing    Pinger
}

// New assembles the API.
func New(cfg config.Config, authSvc *auth.Service, resolver *authz.Resolver, bootstrap *authz.Bootstrapper, g *guard.Guard, dbPing, kvPing Pinger) (*API, error) {
	if authSvc == nil || resolver == nil || bootstrap == nil || g == nil {
		return nil, errors.New("auth service, resolver, bootstrapper, and guard are required")
	}
	return &API{
		cfg:       cfg,
		auth:      authSvc,
		resolver:  resolver,
		bootstrap: bootstrap,
		guard:     g,
		dbPing:    dbPing,
		kvPing:    kvPing,
	}, nil
}

// Router builds the full route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LogRequests)
	r.Use(obs.Instrument)
	if len(a.cfg.CORSAllowOrigins) > 0 {
		r.Use(CORS(a.cfg.CORSAllowOrigins))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	prefix := a.cfg.APIPrefix
	if prefix == "" {
		prefix = "/"
	}
	r.Route(prefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(a.guard.Middleware)
			r.Get("/health", a.handleHealth)
			r.Post("/register", a.handleRegister)
			r.Post("/verify", a.handleVerify)
			r.Post("/resend-verification", a.handleResendVerification)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/logout", a.handleLogout)
			r.Post("/password/reset/request", a.handleResetRequest)
			r.Post("/password/reset/confirm", a.handleResetConfirm)

			r.Group(func(r chi.Router) {
				r.Use(a.RequireAuth)
				r.Get("/me", a.handleMe)
				r.Post("/logout-all", a.handleLogoutAll)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.RequireAuth)
			r.Post("/orgs", a.handleCreateOrg)
			r.Post("/orgs/{orgID}/authz/check", a.handleAuthzCheck)
			r.Get("/admin/suspicious-ips/{ip}", a.handleSuspiciousIP)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{"database": "ok", "kv": "ok"}
	status := http.StatusOK
	if a.dbPing != nil {
		if err := a.dbPing.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if a.kvPing != nil {
		if err := a.kvPing.Ping(ctx); err != nil {
			checks["kv"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, checks)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obs.Error("httpapi.encode_failed", err, nil)
	}
}

// decodeJSON reads the request body into dst. The body size is already
// capped by the guard on /auth routes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// writeDecodeError distinguishes an oversized body from a malformed one.
// Chunked requests bypass the guard's Content-Length check and only trip the
// byte cap while the decoder reads.
func writeDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		problem.Write(w, problem.KindRequestTooLarge, "Request body exceeds the allowed size.")
		return
	}
	problem.Write(w, problem.KindValidation, "Malformed request body.")
}

// writeError maps domain errors to problem documents. Infrastructure errors
// become a generic 500 after logging.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, authz.ErrInvalidInput):
		problem.Write(w, problem.KindValidation, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		problem.Write(w, problem.KindInvalidCredentials, "Invalid credentials.")
	case errors.Is(err, auth.ErrUnverified):
		problem.Write(w, problem.KindUnverified, "Verify your email address before logging in.")
	case errors.Is(err, auth.ErrAccountDisabled):
		problem.Write(w, problem.KindAccountDisabled, "Account disabled.")
	case errors.Is(err, auth.ErrTokenExpired):
		problem.Write(w, problem.KindTokenExpired, "Authentication required.")
	case errors.Is(err, auth.ErrWrongTokenType):
		problem.Write(w, problem.KindInvalidTokenType, "Authentication required.")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenUsed),
		errors.Is(err, auth.ErrRefreshReuse), errors.Is(err, auth.ErrSessionRevoked):
		problem.Write(w, problem.KindInvalidToken, "Authentication required.")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, authz.ErrConflict):
		problem.Write(w, problem.KindConflict, "The resource already exists.")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, authz.ErrNotFound):
		problem.Write(w, problem.KindNotFound, "Not found.")
	case errors.Is(err, kv.ErrUnavailable):
		obs.Error("httpapi.kv_unavailable", err, map[string]any{"path": r.URL.Path})
		problem.Write(w, problem.KindUnavailable, "Service temporarily unavailable.")
	default:
		obs.Error("httpapi.internal_error", err, map[string]any{
			"method": r.Method, "path": r.URL.Path,
		})
		problem.Write(w, problem.KindInternal, "Something went wrong.")
	}
}

func tokenProblemKind(err error) problem.Kind {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return problem.KindTokenExpired
	case errors.Is(err, auth.ErrWrongTokenType):
		return problem.KindInvalidTokenType
	default:
		return problem.KindInvalidToken
	}
}
