// Package gateway implements the stateless WebSocket edge: it verifies a
// capability token, consumes its one-time identifier, resolves the session's
// pod IP, and proxies a duplex byte stream to the pod's terminal server.
package gateway

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"cli-sandbox/internal/capability"
	"cli-sandbox/internal/metrics"
	"cli-sandbox/internal/store"
)

var sessionIDShape = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// Gateway wires together capability token verification, the shared store,
// and the duplex proxy behind the /ws/{sessionId} contract of spec §4.3.
type Gateway struct {
	verifier *capability.Verifier
	store    store.Store
	proxy    *Proxy
	log      logr.Logger
}

// New builds a Gateway.
func New(verifier *capability.Verifier, st store.Store, log logr.Logger) *Gateway {
	return &Gateway{verifier: verifier, store: st, proxy: NewProxy(log), log: log}
}

// Router builds the Gateway's HTTP surface.
func (g *Gateway) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/ws/", g.handleWS)
	return mux
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWS dispatches either the static terminal page (no Upgrade header) or
// the WebSocket upgrade state machine (spec §4.3).
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if !sessionIDShape.MatchString(sessionID) {
		destroy(w)
		return
	}

	if !isUpgradeRequest(r) {
		serveTerminalPage(w, sessionID)
		return
	}

	g.attach(w, r, sessionID)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// attach runs the upgrade protocol state machine from spec §4.3: token
// extract → verify → session-binding check → consume tokenId → resolve
// podIp → proxy. Any failure strictly destroys the connection; no response
// body is ever written.
func (g *Gateway) attach(w http.ResponseWriter, r *http.Request, sessionID string) {
	outcome := "upstream_error"
	defer func() { metrics.AttachAttemptsTotal.WithLabelValues(outcome).Inc() }()

	token := extractToken(r)
	if token == "" {
		outcome = "unauthenticated"
		g.log.Info("attach rejected: no token presented", "sessionId", sessionID)
		destroy(w)
		return
	}

	verifyStart := time.Now()
	claims, err := g.verifier.Verify(r.Context(), token, capability.Audience)
	metrics.TokenVerifyDuration.Observe(time.Since(verifyStart).Seconds())
	if err != nil {
		outcome = "unauthenticated"
		g.log.Info("attach rejected: token invalid", "sessionId", sessionID, "reason", err.Error())
		destroy(w)
		return
	}

	if claims.SessionBinding != sessionID {
		outcome = "mismatched_session"
		g.log.Info("attach rejected: session binding mismatch", "sessionId", sessionID)
		destroy(w)
		return
	}

	consumed, err := g.store.ConsumeTokenID(r.Context(), claims.TokenID)
	if err != nil {
		g.log.Error(err, "consume tokenId failed", "sessionId", sessionID)
		destroy(w)
		return
	}
	if !consumed {
		outcome = "replayed"
		g.log.Info("attach rejected: tokenId already consumed", "sessionId", sessionID)
		destroy(w)
		return
	}

	sess, err := g.store.GetSession(r.Context(), sessionID)
	if err != nil || sess.PodIP == "" {
		g.log.Info("attach rejected: session has no pod IP", "sessionId", sessionID)
		destroy(w)
		return
	}

	if err := g.proxy.ServeWS(w, r, sess.PodIP); err != nil {
		g.log.Error(err, "proxy failed", "sessionId", sessionID)
		return
	}
	outcome = "ok"
}

// extractToken prefers the Sec-WebSocket-Protocol header in the form
// "bearer,<token>"; otherwise falls back to the ?token= query parameter.
func extractToken(r *http.Request) string {
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		parts := strings.Split(proto, ",")
		for i := 0; i+1 < len(parts); i++ {
			if strings.TrimSpace(parts[i]) == "bearer" {
				return strings.TrimSpace(parts[i+1])
			}
		}
	}
	return r.URL.Query().Get("token")
}

// destroy closes the underlying TCP connection without writing any HTTP
// response, per spec §4.3's "opaque closure" requirement. Falls back to a
// plain connection-close header when the ResponseWriter cannot be hijacked
// (e.g. in unit tests against httptest.ResponseRecorder).
func destroy(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = conn.Close()
}
