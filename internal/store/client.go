package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds the connection parameters for the shared Redis coordinator.
type Config struct {
	Host           string
	Port           int
	DB             int
	Password       string
	Timeout        time.Duration
	MaxConnections int
}

// Client wraps a pooled go-redis client with per-call deadlines, a circuit
// breaker, and the Lua scripts the rate limiter needs executed atomically.
type Client struct {
	rdb     *redis.Client
	breaker *CircuitBreaker
	timeout time.Duration
	log     *zap.Logger

	slidingWindowSHA string
	healthSetSHA     string
	abuseIncrSHA     string
}

// New dials Redis, uploads the Lua scripts, and returns a ready Client.
// The connection itself is lazy in go-redis; New only fails if script
// upload fails against an already-unreachable server within ctx.
func New(ctx context.Context, cfg Config, breakerOpts CircuitOptions, log *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Millisecond
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 50
	}
	if log == nil {
		log = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	c := &Client{
		rdb:     rdb,
		breaker: NewCircuitBreaker(breakerOpts),
		timeout: cfg.Timeout,
		log:     log,
	}

	if err := c.loadScripts(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) loadScripts(ctx context.Context) error {
	var err error
	if c.slidingWindowSHA, err = c.rdb.ScriptLoad(ctx, slidingWindowScript).Result(); err != nil {
		return fmt.Errorf("store: load sliding window script: %w", err)
	}
	if c.healthSetSHA, err = c.rdb.ScriptLoad(ctx, healthSetScript).Result(); err != nil {
		return fmt.Errorf("store: load health script: %w", err)
	}
	if c.abuseIncrSHA, err = c.rdb.ScriptLoad(ctx, abuseIncrementScript).Result(); err != nil {
		return fmt.Errorf("store: load abuse script: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// BreakerState exposes the circuit breaker state for diagnostics/metrics.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

// withDeadline runs fn under a per-call deadline and through the circuit
// breaker, translating breaker-open and deadline-exceeded into
// ErrStoreUnavailable uniformly.
func (c *Client) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	if !c.breaker.Allow() {
		return ErrStoreUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil {
		if callCtx.Err() != nil {
			c.breaker.OnFailure()
			return ErrStoreUnavailable
		}
		c.breaker.OnFailure()
		return err
	}
	c.breaker.OnSuccess()
	return nil
}

// evalWithReload runs an EVALSHA and, on NOSCRIPT, reloads the script and
// retries exactly once.
func (c *Client) evalWithReload(ctx context.Context, sha *string, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := c.rdb.EvalSha(ctx, *sha, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if !isNoScript(err) {
		return nil, err
	}
	newSHA, loadErr := c.rdb.ScriptLoad(ctx, script).Result()
	if loadErr != nil {
		return nil, loadErr
	}
	*sha = newSHA
	return c.rdb.EvalSha(ctx, *sha, keys, args...).Result()
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

// WindowResult is the outcome of a sliding-window admission check.
type WindowResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RunSlidingWindow executes the sliding-window log script against
// rl:{userID}:{windowSeconds}. On ErrStoreUnavailable the caller must
// fail open.
func (c *Client) RunSlidingWindow(ctx context.Context, userID string, windowSeconds int, limit int64, now time.Time) (*WindowResult, error) {
	key := fmt.Sprintf("rl:%s:%d", userID, windowSeconds)
	windowMs := int64(windowSeconds) * 1000
	nowMs := now.UnixMilli()
	eventID, err := newEventID(nowMs)
	if err != nil {
		return nil, fmt.Errorf("store: generate event id: %w", err)
	}

	var result *WindowResult
	runErr := c.withDeadline(ctx, func(ctx context.Context) error {
		raw, err := c.evalWithReload(ctx, &c.slidingWindowSHA, slidingWindowScript, []string{key},
			windowMs, limit, nowMs, eventID, windowSeconds)
		if err != nil {
			return err
		}
		parsed, err := parseWindowResult(raw, now)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

func parseWindowResult(raw interface{}, now time.Time) (*WindowResult, error) {
	slice, ok := raw.([]interface{})
	if !ok || len(slice) != 4 {
		return nil, ErrScriptResult
	}
	allowed, ok1 := toInt64(slice[0])
	limit, ok2 := toInt64(slice[1])
	remaining, ok3 := toInt64(slice[2])
	resetMs, ok4 := toInt64(slice[3])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, ErrScriptResult
	}
	return &WindowResult{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMs),
	}, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func newEventID(nowMs int64) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", nowMs, hex.EncodeToString(buf)), nil
}

// HealthRecord is the raw, store-level shape of the system health record.
type HealthRecord struct {
	Status    string
	UpdatedBy string
	Reason    string
	UpdatedAt time.Time
	ExpiresAt time.Time // zero value means no expiry
}

// SetHealth writes the health record atomically along with its key TTL.
func (c *Client) SetHealth(ctx context.Context, key string, rec HealthRecord, ttl time.Duration) error {
	ttlSeconds := int64(0)
	if ttl > 0 {
		ttlSeconds = int64(ttl.Seconds())
	}
	expiresAt := ""
	if !rec.ExpiresAt.IsZero() {
		expiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return c.withDeadline(ctx, func(ctx context.Context) error {
		_, err := c.evalWithReload(ctx, &c.healthSetSHA, healthSetScript, []string{key},
			rec.Status, rec.UpdatedBy, rec.Reason, rec.UpdatedAt.UTC().Format(time.RFC3339), expiresAt, ttlSeconds)
		return err
	})
}

// GetHealth reads the health record. Returns ErrStoreUnavailable on
// breaker-open or timeout; returns a nil record with nil error if the key
// does not exist.
func (c *Client) GetHealth(ctx context.Context, key string) (*HealthRecord, error) {
	var rec *HealthRecord
	err := c.withDeadline(ctx, func(ctx context.Context) error {
		vals, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return nil
		}
		rec = &HealthRecord{
			Status:    vals["status"],
			UpdatedBy: vals["updated_by"],
			Reason:    vals["reason"],
		}
		if t, parseErr := time.Parse(time.RFC3339, vals["updated_at"]); parseErr == nil {
			rec.UpdatedAt = t
		}
		if vals["expires_at"] != "" {
			if t, parseErr := time.Parse(time.RFC3339, vals["expires_at"]); parseErr == nil {
				rec.ExpiresAt = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// IncrementAbuse increments the invalid-credential counter for addr and
// sets the block flag in the same round trip if the threshold is crossed.
// Returns the new attempt count and whether the address is now blocked.
func (c *Client) IncrementAbuse(ctx context.Context, addr string, attemptWindow, blockDuration time.Duration, maxAttempts int64) (count int64, blocked bool, err error) {
	attemptsKey := "attempts:" + addr
	blockedKey := "blocked:" + addr

	runErr := c.withDeadline(ctx, func(ctx context.Context) error {
		raw, err := c.evalWithReload(ctx, &c.abuseIncrSHA, abuseIncrementScript, []string{attemptsKey, blockedKey},
			int64(attemptWindow.Seconds()), maxAttempts, int64(blockDuration.Seconds()))
		if err != nil {
			return err
		}
		slice, ok := raw.([]interface{})
		if !ok || len(slice) != 2 {
			return ErrScriptResult
		}
		c0, ok1 := toInt64(slice[0])
		c1, ok2 := toInt64(slice[1])
		if !ok1 || !ok2 {
			return ErrScriptResult
		}
		count = c0
		blocked = c1 == 1
		return nil
	})
	return count, blocked, runErr
}

// IsBlocked reports whether addr currently carries a block flag.
func (c *Client) IsBlocked(ctx context.Context, addr string) (bool, error) {
	var blocked bool
	err := c.withDeadline(ctx, func(ctx context.Context) error {
		n, err := c.rdb.Exists(ctx, "blocked:"+addr).Result()
		if err != nil {
			return err
		}
		blocked = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return blocked, nil
}

// BlockTTL returns the remaining TTL of addr's block flag, or zero if it
// is not blocked.
func (c *Client) BlockTTL(ctx context.Context, addr string) (time.Duration, error) {
	var ttl time.Duration
	err := c.withDeadline(ctx, func(ctx context.Context) error {
		d, err := c.rdb.TTL(ctx, "blocked:"+addr).Result()
		if err != nil {
			return err
		}
		if d > 0 {
			ttl = d
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ttl, nil
}

// Ping checks basic reachability, through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.withDeadline(ctx, func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
}
