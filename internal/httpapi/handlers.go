package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Backend is the admin orchestration the handlers drive. *admin.Service implements it.
type Backend interface {
	ResolveActor(ctx context.Context, token string) (auth.ActorContext, error)

	ListUsers(ctx context.Context, q admin.UserQuery) (admin.UserPage, error)
	CreateAccount(ctx context.Context, actor auth.Actor, in admin.CreateAccountInput) (auth.Account, error)
	UpdateAccount(ctx context.Context, actor auth.Actor, id string, in admin.UpdateAccountInput) (auth.Account, error)
	DeleteAccount(ctx context.Context, actor auth.Actor, id string) error
	SetBan(ctx context.Context, actor auth.Actor, id string, d auth.BanDuration) (auth.Account, error)
	ResetPassword(ctx context.Context, actor auth.Actor, id string) error

	UserServiceRoles(ctx context.Context, userID string) ([]auth.ServiceRoleRow, error)
	GrantServiceRole(ctx context.Context, actor auth.Actor, in admin.GrantInput) (auth.ServiceRoleRow, error)
	UpdateServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string, role auth.Role) (auth.ServiceRoleRow, error)
	RevokeServiceRole(ctx context.Context, actor auth.Actor, userID, serviceID string) error

	ListServices(ctx context.Context) ([]auth.Service, error)
	ListLogs(ctx context.Context, actor auth.Actor, q admin.LogQuery) (admin.LogPage, error)
}

var _ Backend = (*admin.Service)(nil)

// Options tunes the HTTP layer. Zero values fall back to defaults.
type Options struct {
	Version        string
	ServiceName    string
	AllowedOrigins []string
	RatePerSec     int
	RateBurst      int
	// MutationsPerMinute caps writes per authenticated actor.
	MutationsPerMinute int
	MaxBodyBytes       int64
}

// API is the HTTP layer of the admin service.
type API struct {
	backend Backend
	ready   ReadyProbe
	opts    Options
}

// New builds the API. ready may be nil.
func New(backend Backend, ready ReadyProbe, opts Options) (*API, error) {
	if backend == nil {
		return nil, errors.New("httpapi: backend is required")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "gatehouse-api"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.MutationsPerMinute <= 0 {
		opts.MutationsPerMinute = 60
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &API{backend: backend, ready: ready, opts: opts}, nil
}

// Handler returns the fully wired router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		obs.Instrument,
		SecurityHeaders,
		CORS(a.opts.AllowedOrigins),
		func(next http.Handler) http.Handler { return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSec) },
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) },
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())
	r.Get("/auth/verify", a.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/users", a.handleListUsers)
		r.Get("/users/{id}/service-roles", a.handleUserServiceRoles)
		r.Get("/services", a.handleListServices)
		r.Get("/logs", a.handleListLogs)

		r.Group(func(r chi.Router) {
			r.Use(MutationLimit(a.opts.MutationsPerMinute))

			r.Post("/users", a.handleCreateUser)
			r.Put("/users/{id}", a.handleUpdateUser)
			r.Delete("/users/{id}", a.handleDeleteUser)
			r.Post("/users/{id}/ban", a.handleBanUser)
			r.Post("/users/{id}/reset-password", a.handleResetPassword)

			r.Post("/service-roles", a.handleGrantServiceRole)
			r.Put("/service-roles/{userId}/{serviceId}", a.handleUpdateServiceRole)
			r.Delete("/service-roles/{userId}/{serviceId}", a.handleRevokeServiceRole)
		})
	})

	return obs.Trace(a.opts.ServiceName)(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.opts.ServiceName,
		"version": a.opts.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			obs.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any, message string) {
	writeJSON(w, code, envelope{Data: data, Message: message})
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{Message: message})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps a domain error onto its status code. Rule denials
// surface their reason verbatim; upstream failures stay opaque.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var deny *auth.DenyError
	switch {
	case errors.As(err, &deny):
		writeError(w, r, http.StatusForbidden, deny.Reason)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, detail(err, auth.ErrInvalidInput, "Invalid input data"))
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Access denied")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, detail(err, auth.ErrNotFound, "Not found"))
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, detail(err, auth.ErrConflict, "Resource already exists"))
	case errors.Is(err, auth.ErrTimeout):
		obs.Ctx(r.Context()).Warn().Err(err).Msg("upstream timeout")
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "Upstream service timed out, please retry")
	default:
		obs.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// detail strips the sentinel prefix from err, leaving the caller-facing text.
func detail(err, sentinel error, fallback string) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return fallback
	}
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok && rest != "" {
		return rest
	}
	return fallback
}
