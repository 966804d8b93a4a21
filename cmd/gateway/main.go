// Package main is the entrypoint for the WebSocket Gateway service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ctrl "sigs.k8s.io/controller-runtime"

	"cli-sandbox/internal/capability"
	"cli-sandbox/internal/gateway"
	"cli-sandbox/internal/metrics"
	"cli-sandbox/internal/store"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)

	port := envOr("PORT", "8080")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	jwksURL := strings.TrimSuffix(mustEnv("CONTROLLER_JWKS_URL"), "/")

	ctx := ctrl.SetupSignalHandler()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	st := store.NewRedisStore(rdb)

	verifier := capability.NewVerifier(func() string { return jwksURL })

	gw := gateway.New(verifier, st, log)

	mux := http.NewServeMux()
	mux.Handle("/", gw.Router())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: WebSocket tunnels are long-lived.
	}
	log.Info("Gateway listening", "addr", srv.Addr)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gateway server")
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
