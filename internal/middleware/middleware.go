// Package middleware adapts the rate-limit Orchestrator to net/http:
// extracting the caller's address and credential, translating a Decide
// result into response headers and status codes, and passing allowed
// requests through to the next handler.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"distributed-ratelimiter/internal/ratelimit"
	"distributed-ratelimiter/internal/stats"
)

// KeyFunc extracts the source address used for abuse suppression.
type KeyFunc func(r *http.Request) string

// Decider is the subset of *ratelimit.Orchestrator the middleware needs.
type Decider interface {
	Decide(ctx context.Context, addr, credential string, now time.Time) (ratelimit.Result, error)
}

// Options configures the middleware.
type Options struct {
	Orchestrator       Decider
	KeyHeader          string // credential header, default X-API-Key
	TrustXForwardedFor bool
	AllowlistPaths     []string
	KeyFn              KeyFunc // overrides the source-address extractor
	Stats              stats.Store // optional; recording failures are logged, never fatal
	Log                *zap.Logger
}

// DefaultKeyFunc extracts the client address, preferring the first hop of
// X-Forwarded-For when trustXFF is set, falling back to RemoteAddr.
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if parts := strings.Split(xff, ","); len(parts) > 0 {
					if ip := strings.TrimSpace(parts[0]); ip != "" {
						return ip
					}
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Handler builds the rate-limiting middleware.
func Handler(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyHeader == "" {
		opts.KeyHeader = "X-API-Key"
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.TrustXForwardedFor)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	allowlist := make(map[string]struct{}, len(opts.AllowlistPaths))
	for _, p := range opts.AllowlistPaths {
		allowlist[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowlist[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			addr := opts.KeyFn(r)
			credential := strings.TrimSpace(r.Header.Get(opts.KeyHeader))
			requestID := w.Header().Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
				w.Header().Set("X-Request-ID", requestID)
			}

			res, err := opts.Orchestrator.Decide(r.Context(), addr, credential, time.Now())
			recordStats(r, opts.Stats, opts.Log, res.Tier, err == nil)
			if err != nil {
				writeRejection(w, opts.Log, requestID, res, err)
				return
			}

			if res.Degraded {
				w.Header().Set("X-RateLimit-Degraded", "true")
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, log *zap.Logger, requestID string, res ratelimit.Result, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrBlocked):
		setRetryAfter(w, res.RetryAfter)
		writeJSONError(w, http.StatusTooManyRequests, "blocked", "", 0)
	case errors.Is(err, ratelimit.ErrInvalidCredential):
		w.Header().Set("X-Request-ID", requestID)
		writeJSONError(w, http.StatusUnauthorized, "invalid_credential", "", 0)
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		setRetryAfter(w, res.RetryAfter)
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", "0")
		if !res.ResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}
		writeJSONError(w, http.StatusTooManyRequests, "limit_exceeded", res.Tier, res.Limit)
	case errors.Is(err, ratelimit.ErrConfigInvalid):
		log.Error("rate limit decision failed: invalid configuration", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "", 0)
	default:
		log.Error("rate limit decision failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "", 0)
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}

type errorBody struct {
	Error string `json:"error"`
	Tier  string `json:"tier,omitempty"`
	Limit int64  `json:"limit,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, kind, tier string, limit int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Tier: tier, Limit: limit})
}

func recordStats(r *http.Request, store stats.Store, log *zap.Logger, tier string, allowed bool) {
	if store == nil {
		return
	}
	err := store.Record(r.Context(), stats.Event{
		Tier:    tier,
		Allowed: allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
	if err != nil {
		log.Warn("stats record failed", zap.Error(err))
	}
}
