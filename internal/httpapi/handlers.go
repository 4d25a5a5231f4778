package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

const (
	serviceName  = "project-manager-api"
	maxBodyBytes = 1 << 20
)

// Pinger is anything the readiness probe can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports whether the backing database answers.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.Ping(ctx)
}

// Deps wires the HTTP layer to its services.
type Deps struct {
	Sessions  *auth.Service
	Directory *auth.RBACService
	Resolver  *auth.Resolver
	Ready     ReadyProbe

	Mode         TransportMode
	CookieSecure bool
	CookieDomain string

	LoginRateBurst    int
	LoginRatePerSec   float64
	TrustProxyHeaders bool

	Version string
}

// API is the HTTP layer.
type API struct {
	router    chi.Router
	sessions  *auth.Service
	directory *auth.RBACService
	gate      *Gate
	ready     ReadyProbe
	cookies   cookieJar
	version   string
}

// New builds the router. Sessions, Directory and Resolver are required.
func New(d Deps) (*API, error) {
	if d.Sessions == nil || d.Directory == nil || d.Resolver == nil {
		return nil, errors.New("httpapi: sessions, directory and resolver are required")
	}
	gate, err := NewGate(GateConfig{
		Codec:        d.Sessions.Codec(),
		Resolver:     d.Resolver,
		Mode:         d.Mode,
		CookieSecure: d.CookieSecure,
		CookieDomain: d.CookieDomain,
	})
	if err != nil {
		return nil, err
	}
	a := &API{
		sessions:  d.Sessions,
		directory: d.Directory,
		gate:      gate,
		ready:     d.Ready,
		cookies:   gate.cookies,
		version:   d.Version,
	}

	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, obs.Instrument)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/ping", a.Ping)
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/login", RateLimit(http.HandlerFunc(a.handleLogin), d.LoginRateBurst, d.LoginRatePerSec, d.TrustProxyHeaders))
		r.Post("/logout", a.handleLogout)
		r.Post("/refresh_token", a.handleRefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(gate.Middleware)
			r.Get("/me", a.handleMe)
			r.Get("/permissions", a.handlePermissions)

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Get("/users/{id}", a.handleGetUser)
			r.Put("/users/{id}", a.handleUpdateUser)
			r.Delete("/users/{id}", a.handleDeleteUser)

			r.Get("/roles", a.handleListRoles)
			r.Post("/roles", a.handleCreateRole)
			r.Get("/roles/{id}", a.handleGetRole)
			r.Put("/roles/{id}", a.handleUpdateRole)
			r.Delete("/roles/{id}", a.handleDeleteRole)
		})
	})

	a.router = r
	return a, nil
}

// Handler returns the root handler with body size limits applied.
func (a *API) Handler() http.Handler {
	return MaxBodyBytes(a.router, maxBodyBytes)
}

// --- Handlers ---

func (a *API) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "pong")
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.Warn("readiness_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusServiceUnavailable, "Not ready")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"ready": true})
}

// --- helpers ---

type envelope struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{StatusCode: code, Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, _ *http.Request, code int, msg string) {
	writeJSON(w, code, envelope{StatusCode: code, Status: "error", Message: msg})
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
