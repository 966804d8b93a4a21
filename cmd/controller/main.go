// Package main is the entrypoint for the Session Controller service.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	ctrl "sigs.k8s.io/controller-runtime"

	"cli-sandbox/internal/admission"
	"cli-sandbox/internal/capability"
	"cli-sandbox/internal/controller"
	"cli-sandbox/internal/metrics"
	"cli-sandbox/internal/orchestrator"
	"cli-sandbox/internal/ratelimit"
	"cli-sandbox/internal/store"
	"cli-sandbox/internal/validation"

	"net/http"

	"github.com/redis/go-redis/v9"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)

	namespace := envOr("NAMESPACE", "ws-cli")
	port := envOr("PORT", "8080")
	runnerImage := mustEnv("RUNNER_IMAGE")
	runnerCPU := envOr("RUNNER_CPU", "1")
	runnerMemory := envOr("RUNNER_MEMORY", "1Gi")
	jobTTLSeconds := envOrInt32("JOB_TTL_SECONDS", 600)
	activeDeadlineSeconds := envOrInt64("ACTIVE_DEADLINE_SECONDS", 3600)
	sessionExpirySeconds := envOrInt64("SESSION_EXPIRY_SECONDS", 600)
	discoveryDeadline := envOrDuration("DISCOVERY_DEADLINE", orchestrator.DefaultDiscoveryDeadline)
	if discoveryDeadline < orchestrator.MinDiscoveryDeadline {
		discoveryDeadline = orchestrator.MinDiscoveryDeadline
	}
	gatewayPathPrefix := envOr("GATEWAY_PATH_PREFIX", "/ws/")
	allowedDomains := splitCSV(mustEnv("ALLOWED_CODE_DOMAINS"))
	kubeconfig := os.Getenv("KUBECONFIG")
	callerAuthMode := envOr("CALLER_AUTH_MODE", "api-key")
	signingKeyID := envOr("SIGNING_KEY_ID", "default")
	rateLimitMax := envOrInt("RATE_LIMIT_MAX", 0)
	rateLimitWindow := envOrDuration("RATE_LIMIT_WINDOW", time.Minute)
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")

	ctx := ctrl.SetupSignalHandler()

	kube, err := orchestrator.NewInClusterOrKubeconfigClient(kubeconfig)
	if err != nil {
		log.Error(err, "Failed to build Kubernetes client")
		os.Exit(1)
	}
	orch := orchestrator.NewClient(kube, namespace)

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	st := store.NewRedisStore(rdb)

	var signer *capability.Signer
	if seedHex := os.Getenv("SIGNING_KEY_SEED"); seedHex != "" {
		seed, decErr := decodeHexSeed(seedHex)
		if decErr != nil {
			log.Error(decErr, "Failed to decode SIGNING_KEY_SEED")
			os.Exit(1)
		}
		signer, err = capability.NewSignerFromSeed(signingKeyID, seed)
	} else {
		signer, err = capability.NewSigner(signingKeyID)
	}
	if err != nil {
		log.Error(err, "Failed to initialize capability token signer")
		os.Exit(1)
	}

	authn, err := buildAuthenticator(ctx, callerAuthMode)
	if err != nil {
		log.Error(err, "Failed to initialize caller authenticator")
		os.Exit(1)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:    rateLimitWindow,
		Max:       rateLimitMax,
		SkipPaths: []string{"/healthz", "/readyz", "/.well-known/jwks.json"},
	})

	cfg := controller.Config{
		Namespace:             namespace,
		RunnerImage:           runnerImage,
		RunnerCPU:             runnerCPU,
		RunnerMemory:          runnerMemory,
		JobTTLSeconds:         jobTTLSeconds,
		ActiveDeadlineSeconds: activeDeadlineSeconds,
		SessionExpirySeconds:  sessionExpirySeconds,
		DiscoveryDeadline:     discoveryDeadline,
		AllowedCodeDomains:    validation.AllowedCodeDomains(allowedDomains),
		GatewayPathPrefix:     gatewayPathPrefix,
	}
	c := controller.New(cfg, authn, limiter, orch, st, signer, log)

	mux := http.NewServeMux()
	mux.Handle("/", c.Router())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Info("Controller listening", "addr", srv.Addr, "namespace", namespace)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down controller server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "Server shutdown error")
		}
	case err := <-srvErr:
		if err != nil {
			log.Error(err, "Server failed")
			os.Exit(1)
		}
	}
}

func buildAuthenticator(ctx context.Context, mode string) (admission.Authenticator, error) {
	switch mode {
	case "identity-token-from-external-provider", "oidc":
		issuerURL := mustEnv("OIDC_ISSUER_URL")
		clientID := mustEnv("OIDC_CLIENT_ID")
		return admission.NewOIDCAuthenticator(ctx, issuerURL, clientID)
	default:
		owners := map[string]string{}
		for _, pair := range splitCSV(mustEnv("API_KEYS")) {
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("malformed API_KEYS entry %q, want key:ownerId", pair)
			}
			owners[parts[0]] = parts[1]
		}
		return admission.NewAPIKeyAuthenticator(owners), nil
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func decodeHexSeed(raw string) ([]byte, error) {
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex seed: %w", err)
	}
	return seed, nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "required env var %q is not set\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrInt32(key string, def int32) int32 {
	return int32(envOrInt(key, int(def)))
}

func envOrInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
