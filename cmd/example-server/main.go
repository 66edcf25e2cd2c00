// Command example-server demonstrates wiring the rate-limit middleware
// directly into a handler, without a reverse proxy in front of it.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"distributed-ratelimiter/internal/abuse"
	"distributed-ratelimiter/internal/config"
	"distributed-ratelimiter/internal/health"
	"distributed-ratelimiter/internal/identity"
	"distributed-ratelimiter/internal/middleware"
	"distributed-ratelimiter/internal/ratelimit"
	"distributed-ratelimiter/internal/store"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	configPath := getenvDefault("CONFIG_PATH", "config.example.yaml")
	loader, err := config.New(configPath, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snap := loader.Snapshot()
	client, err := store.New(ctx, store.Config(snap.Store), store.CircuitOptions{}, logger)
	if err != nil {
		logger.Fatal("failed to connect to shared store", zap.Error(err))
	}
	defer func() { _ = client.Close() }()

	healthSvc := health.New(client, time.Second, logger)
	resolver := identity.New(loader.Holder())
	abuseSvc := abuse.New(client, abuse.Config{
		MaxAttempts:   snap.Abuse.MaxAttempts,
		AttemptWindow: time.Duration(snap.Abuse.AttemptWindowSeconds) * time.Second,
		BlockDuration: time.Duration(snap.Abuse.BlockDurationSeconds) * time.Second,
	}, logger)
	defer abuseSvc.Close()

	orchestrator := ratelimit.New(client, abuseSvc, healthSvc, resolver, loader.Holder())

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = middleware.Handler(middleware.Options{
		Orchestrator:       orchestrator,
		KeyHeader:          "X-API-Key",
		TrustXForwardedFor: true,
		Log:                logger,
	})(h)

	addr := getenvDefault("LISTEN_ADDR", ":8081")

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
