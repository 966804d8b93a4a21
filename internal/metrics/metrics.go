// Package metrics holds the Prometheus collectors shared by the Controller
// and Gateway services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller collectors.
var (
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cli_sandbox",
		Subsystem: "controller",
		Name:      "sessions_created_total",
		Help:      "Number of createSession requests by outcome; rate_limited also counts rate-limited getSession requests.",
	}, []string{"outcome"})

	SessionCreateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cli_sandbox",
		Subsystem: "controller",
		Name:      "session_create_duration_seconds",
		Help:      "End-to-end createSession latency, from admission to responding with a capability token.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"outcome"})

	PodDiscoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cli_sandbox",
		Subsystem: "controller",
		Name:      "pod_discovery_duration_seconds",
		Help:      "Time spent polling for a sandbox pod's IP address.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	TokensMintedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cli_sandbox",
		Subsystem: "controller",
		Name:      "capability_tokens_minted_total",
		Help:      "Number of capability tokens minted.",
	})
)

// Gateway collectors.
var (
	ActiveTunnels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cli_sandbox",
		Subsystem: "gateway",
		Name:      "active_tunnels",
		Help:      "Number of WebSocket tunnels currently proxying to a sandbox pod.",
	})

	AttachAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cli_sandbox",
		Subsystem: "gateway",
		Name:      "attach_attempts_total",
		Help:      "Number of attach attempts, by outcome (ok, replayed, mismatched_session, unauthenticated, upstream_error).",
	}, []string{"outcome"})

	TokenVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cli_sandbox",
		Subsystem: "gateway",
		Name:      "token_verify_duration_seconds",
		Help:      "Time spent verifying a capability token, including JWKS fetch on cache miss.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler returns the HTTP handler serving the process's registered
// collectors in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
