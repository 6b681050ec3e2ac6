package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

const (
	serviceName  = "authserver"
	maxBodyBytes = 1 << 20
)

// ReadyProbe reports whether the backing database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the token and tenant administration services.
type API struct {
	router  chi.Router
	svc     *auth.Service
	rbac    *auth.RBACService
	ready   ReadyProbe
	version string
	limiter *rateLimiter
	proxies proxyTrust
}

type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.ready = rp }
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit bounds the token endpoints per client address.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) { a.limiter = newRateLimiter(perSecond, burst) }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// identifies the client. Without it the TCP peer address is used.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append(proxyTrust(nil), prefixes...) }
}

func New(svc *auth.Service, rbac *auth.RBACService, opts ...Option) (*API, error) {
	if svc == nil || rbac == nil {
		return nil, errors.New("httpapi: auth and rbac services are required")
	}
	a := &API{
		svc:     svc,
		rbac:    rbac,
		version: "dev",
		limiter: newRateLimiter(20, 40),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, a.proxies.Middleware, Logging, SecurityHeaders)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(MaxBodyBytes(maxBodyBytes))

		r.Group(func(r chi.Router) {
			r.Use(a.limiter.Middleware)
			r.Post("/tokens/auth", a.obtainToken)
			r.Post("/tokens/refresh", a.refreshToken)
			r.Post("/tokens/verify", a.verifyToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Route("/organizations", a.organizationRoutes)
			r.Route("/users", a.userRoutes)
			r.Route("/roles", a.roleRoutes)
			r.Route("/permissions", a.permissionRoutes)
			r.Route("/grants", a.grantRoutes)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the router wrapped with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
