package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"distributed-ratelimiter/internal/abuse"
	"distributed-ratelimiter/internal/adminapi"
	"distributed-ratelimiter/internal/concurrency"
	"distributed-ratelimiter/internal/config"
	"distributed-ratelimiter/internal/health"
	"distributed-ratelimiter/internal/identity"
	"distributed-ratelimiter/internal/middleware"
	"distributed-ratelimiter/internal/ratelimit"
	"distributed-ratelimiter/internal/stats"
	"distributed-ratelimiter/internal/store"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loader, err := config.New(cfg.configPath, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := loader.Watch(ctx.Done()); err != nil {
		logger.Fatal("failed to watch configuration file", zap.Error(err))
	}

	snap := loader.Snapshot()
	storeCfg := snap.Store
	if v := cfg.storeHost; v != "" {
		storeCfg.Host = v
	}
	if cfg.storePort > 0 {
		storeCfg.Port = cfg.storePort
	}
	adminKey := snap.Admin.Key
	if cfg.adminKey != "" {
		adminKey = cfg.adminKey
	}
	concurrencyMax := cfg.concurrencyMax
	if concurrencyMax < 0 {
		concurrencyMax = storeCfg.MaxConnections
	}

	client, err := store.New(ctx, store.Config(storeCfg), store.CircuitOptions{}, logger)
	if err != nil {
		logger.Fatal("failed to connect to shared store", zap.Error(err))
	}
	defer func() { _ = client.Close() }()

	healthSvc := health.New(client, time.Duration(snap.Health.CacheTTLSeconds)*time.Second, logger)
	resolver := identity.New(loader.Holder())
	abuseSvc := abuse.New(client, abuse.Config{
		MaxAttempts:   snap.Abuse.MaxAttempts,
		AttemptWindow: time.Duration(snap.Abuse.AttemptWindowSeconds) * time.Second,
		BlockDuration: time.Duration(snap.Abuse.BlockDurationSeconds) * time.Second,
	}, logger)
	defer abuseSvc.Close()

	orchestrator := ratelimit.New(client, abuseSvc, healthSvc, resolver, loader.Holder())

	statsStore := stats.NewMemoryStore(stats.WithTrackTiers(true))

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	adminapi.New(healthSvc, loader, statsStore, logger).Register(mux, adminKey)
	mux.Handle("/", proxy)

	h := http.Handler(mux)
	h = concurrency.Middleware(concurrency.Options{
		Max:            concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)
	h = middleware.Handler(middleware.Options{
		Orchestrator:       orchestrator,
		KeyHeader:          snap.Middleware.KeyHeader,
		TrustXForwardedFor: snap.Middleware.TrustXForwardedFor,
		AllowlistPaths:     snap.Middleware.AllowlistPaths,
		Stats:              statsStore,
		Log:                logger,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("upstream", target.String()),
		zap.Int("concurrencyMax", concurrencyMax),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

type gatewayConfig struct {
	listenAddr         string
	upstreamURL        string
	configPath         string
	logLevel           string
	adminKey           string
	storeHost          string
	storePort          int
	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (gatewayConfig, error) {
	cfg := gatewayConfig{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.configPath = getenvDefault("CONFIG_PATH", "config.yaml")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.adminKey = os.Getenv("ADMIN_KEY")
	cfg.storeHost = os.Getenv("STORE_HOST")
	cfg.storePort = getenvIntDefault("STORE_PORT", 0)
	// -1 means CONCURRENCY_MAX was not set: main defaults it to the shared
	// store client's connection pool size once that is known.
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", -1)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	if cfg.upstreamURL == "" {
		return gatewayConfig{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.concurrencyMax < -1 {
		return gatewayConfig{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
