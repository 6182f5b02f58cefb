// Package httpapi exposes credential validation, license ledger operations
// and entitlement queries over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/audit"
	"github.com/authvital/authvital/internal/auth"
	"github.com/authvital/authvital/internal/entitlement"
	"github.com/authvital/authvital/internal/license"
	"github.com/authvital/authvital/internal/obs"
)

// ReadyProbe checks backing-store readiness. A nil DB always reports ready,
// which is the in-memory deployment mode.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the HTTP layer serves.
type Config struct {
	Validator    *apikey.Validator
	Keys         *apikey.Service
	Engine       *auth.Engine
	Ledger       license.Service
	Entitlements *entitlement.Resolver
	Audit        *audit.Dispatcher
	TenantSecret []byte
	ReadyProbe   ReadyProbe
	Version      string
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	validator    *apikey.Validator
	keys         *apikey.Service
	engine       *auth.Engine
	ledger       license.Service
	entitlements *entitlement.Resolver
	auditQueue   *audit.Dispatcher
	tenantSecret []byte
	readyProbe   ReadyProbe
	version      string
	rateBurst    int
	ratePerSec   int
}

// New wires routes. Validator, Engine and Ledger are required; the rest may
// be nil and their endpoints respond 503.
func New(cfg Config) (*API, error) {
	if cfg.Validator == nil || cfg.Engine == nil || cfg.Ledger == nil {
		return nil, errors.New("httpapi: validator, engine and ledger are required")
	}
	a := &API{
		mux:          http.NewServeMux(),
		validator:    cfg.Validator,
		keys:         cfg.Keys,
		engine:       cfg.Engine,
		ledger:       cfg.Ledger,
		entitlements: cfg.Entitlements,
		auditQueue:   cfg.Audit,
		tenantSecret: cfg.TenantSecret,
		readyProbe:   cfg.ReadyProbe,
		version:      cfg.Version,
		rateBurst:    50,
		ratePerSec:   25,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/licenses/grant", a.handleGrant)
	a.mux.HandleFunc("/v1/licenses/revoke", a.handleRevoke)
	a.mux.HandleFunc("/v1/licenses/change", a.handleChangeType)
	a.mux.HandleFunc("/v1/licenses/bulk-grant", a.handleBulkGrant)
	a.mux.HandleFunc("/v1/licenses/bulk-revoke", a.handleBulkRevoke)

	a.mux.HandleFunc("/v1/entitlements/feature", a.handleFeature)
	a.mux.HandleFunc("/v1/entitlements/seats", a.handleSeats)
	a.mux.HandleFunc("/v1/entitlements/status", a.handleStatus)

	a.mux.HandleFunc("/v1/keys", a.handleKeysCollection)
	a.mux.HandleFunc("/v1/keys/", a.handleKeyResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a, nil
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authvital-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authvital-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// audit queues an event if a dispatcher is configured. Delivery is
// fire-and-forget.
func (a *API) audit(event string, fields map[string]any) {
	if a.auditQueue == nil {
		return
	}
	a.auditQueue.Emit(event, fields)
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

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
