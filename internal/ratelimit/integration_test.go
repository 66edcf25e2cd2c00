package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"distributed-ratelimiter/internal/abuse"
	"distributed-ratelimiter/internal/config"
	"distributed-ratelimiter/internal/health"
	"distributed-ratelimiter/internal/identity"
	"distributed-ratelimiter/internal/middleware"
	"distributed-ratelimiter/internal/ratelimit"
	"distributed-ratelimiter/internal/store"
)

// stack bundles one fully wired, miniredis-backed instance of every
// collaborator the Decision Orchestrator needs, plus the http.Handler
// that drives it end to end through the middleware adapter -- the same
// shape cmd/gateway/main.go wires in production, minus config-file
// loading.
type stack struct {
	srv     *miniredis.Miniredis
	client  *store.Client
	health  *health.Service
	abuse   *abuse.Service
	holder  *config.Holder
	handler http.Handler
}

func newStack(t *testing.T, tiers map[string]config.TierConfig, users map[string]config.UserConfig, apiKeys map[string]string, breaker store.CircuitOptions) *stack {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client, err := store.New(context.Background(), store.Config{
		Host:    srv.Host(),
		Port:    mustAtoiIntegration(t, srv.Port()),
		Timeout: 200 * time.Millisecond,
	}, breaker, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		Tiers:   tiers,
		Users:   users,
		APIKeys: apiKeys,
		Abuse:   config.AbuseConfig{MaxAttempts: 10, AttemptWindowSeconds: 900, BlockDurationSeconds: 900},
	}
	require.NoError(t, cfg.Validate())
	holder := config.NewHolder(config.NewSnapshot(cfg))

	healthSvc := health.New(client, 50*time.Millisecond, nil)
	abuseSvc := abuse.New(client, abuse.Config{MaxAttempts: 10, AttemptWindow: 15 * time.Minute, BlockDuration: 15 * time.Minute}, nil)
	t.Cleanup(abuseSvc.Close)

	resolver := identity.New(holder)
	orch := ratelimit.New(client, abuseSvc, healthSvc, resolver, holder)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.Handler(middleware.Options{Orchestrator: orch})(next)

	return &stack{srv: srv, client: client, health: healthSvc, abuse: abuseSvc, holder: holder, handler: handler}
}

func mustAtoiIntegration(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a port: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func (s *stack) request(t *testing.T, addr, credential string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://example/orders", nil)
	r.RemoteAddr = addr + ":1234"
	if credential != "" {
		r.Header.Set("X-API-Key", credential)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func freeTier() config.TierConfig {
	return config.TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}
}

func proTier() config.TierConfig {
	return config.TierConfig{BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1}
}

func enterpriseTier() config.TierConfig {
	return config.TierConfig{BaseLimit: 1000, BurstLimit: 1000, DegradedLimit: 1000, WindowMinutes: 1}
}

// Scenario 1: free tier, NORMAL health, burst to 20 admissions, 21st rejected.
func TestIntegration_FreeBurstInNormal(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"free": freeTier()},
		map[string]config.UserConfig{"alice": {Tier: "free"}},
		map[string]string{"alice-key-01": "alice"}, store.CircuitOptions{})

	var last *httptest.ResponseRecorder
	for i := 0; i < 20; i++ {
		last = s.request(t, "1.1.1.1", "alice-key-01")
		require.Equal(t, http.StatusOK, last.Code, "request %d", i+1)
	}
	require.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))

	w := s.request(t, "1.1.1.1", "alice-key-01")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
}

// Scenario 2: free tier shed under DEGRADED -- only degraded_limit (2)
// admissions survive once the health cache has turned over.
func TestIntegration_FreeShedInDegraded(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"free": freeTier()},
		map[string]config.UserConfig{"alice": {Tier: "free"}},
		map[string]string{"alice-key-01": "alice"}, store.CircuitOptions{})

	require.NoError(t, s.health.Set(context.Background(), health.StatusDegraded, "admin", "incident", 0))
	time.Sleep(60 * time.Millisecond) // outlast the health cache TTL

	w := s.request(t, "2.2.2.2", "alice-key-01")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.request(t, "2.2.2.2", "alice-key-01")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, "2.2.2.2", "alice-key-01")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
}

// Scenario 3: pro tier keeps its SLA (base_limit, not degraded_limit)
// while DEGRADED.
func TestIntegration_ProSLAInDegraded(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"pro": proTier()},
		map[string]config.UserConfig{"bob": {Tier: "pro"}},
		map[string]string{"bob-key-01": "bob"}, store.CircuitOptions{})

	require.NoError(t, s.health.Set(context.Background(), health.StatusDegraded, "admin", "incident", 0))
	time.Sleep(60 * time.Millisecond)

	var last *httptest.ResponseRecorder
	for i := 0; i < 100; i++ {
		last = s.request(t, "3.3.3.3", "bob-key-01")
		require.Equal(t, http.StatusOK, last.Code, "request %d", i+1)
	}

	w := s.request(t, "3.3.3.3", "bob-key-01")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

// Scenario 4: enterprise tier is unaffected by a switch from NORMAL to
// DEGRADED; 500 requests in each state, all 1000 in one window, succeed.
func TestIntegration_EnterpriseUnaffectedByHealth(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"enterprise": enterpriseTier()},
		map[string]config.UserConfig{"acme": {Tier: "enterprise"}},
		map[string]string{"acme-key-01": "acme"}, store.CircuitOptions{})

	for i := 0; i < 500; i++ {
		w := s.request(t, "4.4.4.4", "acme-key-01")
		require.Equal(t, http.StatusOK, w.Code, "normal request %d", i+1)
	}

	require.NoError(t, s.health.Set(context.Background(), health.StatusDegraded, "admin", "incident", 0))
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 500; i++ {
		w := s.request(t, "4.4.4.4", "acme-key-01")
		require.Equal(t, http.StatusOK, w.Code, "degraded request %d", i+1)
	}
}

// Scenario 5: 10 invalid-credential requests from one address each get
// 401; the 10th is also the attempt that crosses the abuse threshold, so
// the 11th request -- with any credential, valid or not -- gets 429
// "blocked" instead of being evaluated on its own merits.
func TestIntegration_InvalidCredentialAbuseBlocksEleventhRequest(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"free": freeTier()},
		map[string]config.UserConfig{"alice": {Tier: "free"}},
		map[string]string{"alice-key-01": "alice"}, store.CircuitOptions{})

	for i := 0; i < 10; i++ {
		w := s.request(t, "5.5.5.5", "bogus-credential")
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := s.request(t, "5.5.5.5", "alice-key-01")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retryAfter := w.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
}

// Scenario 6: once the store is unreachable past the circuit breaker's
// failure threshold, valid requests still admit (fail open) and carry
// the degraded annotation instead of erroring out.
func TestIntegration_StoreOutageFailsOpen(t *testing.T) {
	s := newStack(t, map[string]config.TierConfig{"free": freeTier()},
		map[string]config.UserConfig{"alice": {Tier: "free"}},
		map[string]string{"alice-key-01": "alice"}, store.CircuitOptions{FailureThreshold: 1, OpenDuration: time.Minute})

	s.srv.Close()

	// First call still tries the store and fails, tripping the breaker.
	w := s.request(t, "6.6.6.6", "alice-key-01")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "true", w.Header().Get("X-RateLimit-Degraded"))

	// Second call short-circuits on the now-open breaker; still fails open.
	w = s.request(t, "6.6.6.6", "alice-key-01")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "true", w.Header().Get("X-RateLimit-Degraded"))
}
