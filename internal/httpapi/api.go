// Package httpapi exposes the access-control core over HTTP and gRPC.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
	"meridian.club/internal/obs"
	"meridian.club/internal/stream"
)

const serviceName = "meridian-api"

// Pinger is satisfied by database handles.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe is the readiness check behind /readyz.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// AuditReader is the query side of the audit trail.
type AuditReader interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Event, error)
	Export(ctx context.Context, q audit.Query) ([]byte, error)
}

// Deps are the collaborators the API is composed from.
type Deps struct {
	Gate     *gate.Gate
	Catalog  *auth.Catalog
	Accounts auth.AccountStore
	Audit    AuditReader
	Recorder audit.Recorder
	Stream   *stream.Hub
	Ready    ReadyProbe
	Version  string
	Logger   *slog.Logger

	RateBurst  int
	RatePerSec float64
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	gate     *gate.Gate
	catalog  *auth.Catalog
	roles    *auth.RoleManager
	accounts auth.AccountStore
	audit    AuditReader
	recorder audit.Recorder
	stream   *stream.Hub
	ready    ReadyProbe
	version  string
	logger   *slog.Logger

	rateBurst  int
	ratePerSec float64
}

func New(d Deps) (*API, error) {
	if d.Gate == nil || d.Catalog == nil || d.Accounts == nil || d.Audit == nil {
		return nil, errors.New("httpapi: gate, catalog, accounts and audit are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		gate:       d.Gate,
		catalog:    d.Catalog,
		roles:      d.Gate.Roles(),
		accounts:   d.Accounts,
		audit:      d.Audit,
		recorder:   d.Recorder,
		stream:     d.Stream,
		ready:      d.Ready,
		version:    d.Version,
		logger:     obs.Resolve(d.Logger),
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/me/permissions", a.protect(rulePermissions, nil, a.handleMyPermissions))
	a.mux.HandleFunc("GET /v1/audit/events", a.protect(ruleAuditRead, nil, a.handleAuditEvents))
	a.mux.HandleFunc("GET /v1/audit/export", a.protect(ruleAuditRead, nil, a.handleAuditExport))
	a.mux.HandleFunc("GET /v1/audit/stream", a.protect(ruleAuditRead, nil, a.handleAuditStream))
	a.mux.HandleFunc("PUT /v1/users/{id}/role", a.protect(ruleAssignRole, pathID, a.handleAssignRole))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = withBearer(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
