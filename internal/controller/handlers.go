package controller

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"cli-sandbox/internal/admission"
	"cli-sandbox/internal/metrics"
	"cli-sandbox/internal/store"
)

const bearerPrefix = "Bearer "

// Router builds the Controller's HTTP surface: POST /api/sessions,
// GET /api/sessions/{id}, GET /healthz, GET /readyz, and the JWKS endpoint.
func (c *Controller) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", c.handleSessions)
	mux.HandleFunc("/api/sessions/", c.handleSessionByID)
	mux.HandleFunc("/.well-known/jwks.json", c.handleJWKS)
	mux.HandleFunc("/healthz", c.handleHealthz)
	mux.HandleFunc("/readyz", c.handleReadyz)
	return mux
}

func (c *Controller) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	correlationID := uuid.NewString()
	log := c.log.WithValues("correlationId", correlationID)

	caller, err := c.authenticate(r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	if rerr := c.checkRateLimit(r, caller.OwnerID); rerr != nil {
		writeError(w, log, rerr)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, newAPIError(kindValidation, "malformed request body", err))
		return
	}

	result, aerr := c.CreateSession(r.Context(), caller, req)
	if aerr != nil {
		writeError(w, log, aerr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, err := c.authenticate(r)
	if err != nil {
		writeError(w, c.log, err)
		return
	}

	if rerr := c.checkRateLimit(r, caller.OwnerID); rerr != nil {
		writeError(w, c.log, rerr)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	view, aerr := c.GetSession(r.Context(), caller, sessionID)
	if aerr != nil {
		writeError(w, c.log, aerr)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (c *Controller) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(c.PublicKeySetJSON())
}

func (c *Controller) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// A lookup of a well-formed but nonexistent id still requires a live
	// round trip to the store; ErrNotFound is itself a healthy answer.
	_, err := c.store.GetSession(r.Context(), "00000000-0000-0000-0000-000000000000")
	if err != nil && err != store.ErrNotFound {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

func (c *Controller) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (c *Controller) authenticate(r *http.Request) (admission.Caller, *apiError) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return admission.Caller{}, newAPIError(kindAuth, "missing bearer token", nil)
	}
	raw := strings.TrimPrefix(h, bearerPrefix)
	caller, err := c.authn.Authenticate(r.Context(), raw)
	if err != nil {
		return admission.Caller{}, newAPIError(kindAuth, "invalid caller credentials", err)
	}
	return caller, nil
}

// checkRateLimit enforces the per-caller limiter configured on c, honoring
// the limiter's SkipPaths (spec §6's sessionRateLimit "skip-paths" option) so health
// and key-set endpoints are never throttled. Returns nil when the request
// may proceed.
func (c *Controller) checkRateLimit(r *http.Request, ownerID string) *apiError {
	if c.limiter == nil || c.limiter.Skip(r.URL.Path) {
		return nil
	}
	if !c.limiter.Allow(ownerID) {
		metrics.SessionsCreatedTotal.WithLabelValues("rate_limited").Inc()
		return newAPIError(kindRateLimited, "rate limit exceeded", nil)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, log logr.Logger, err error) {
	ae := asAPIError(err)
	if ae.cause != nil {
		log.Error(ae.cause, ae.reason)
	}

	status := statusFor(ae.kind)
	resp := map[string]string{"error": ae.reason}
	if ae.kind == kindRateLimited {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func statusFor(k kind) int {
	switch k {
	case kindAuth:
		return http.StatusUnauthorized
	case kindForbidden:
		return http.StatusForbidden
	case kindValidation:
		return http.StatusBadRequest
	case kindRateLimited:
		return http.StatusTooManyRequests
	case kindNotFound:
		return http.StatusNotFound
	case kindOrchestratorFailure, kindDiscoveryTimeout, kindStoreFailure, kindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
