// Package config loads, validates, and hot-reloads the rate limiter's
// configuration file, publishing immutable snapshots to the rest of the
// system.
package config

import (
	"fmt"
	"time"
)

// TierConfig is a named quota class. The source file expresses windows in
// minutes; Loader converts WindowMinutes to WindowSeconds once at load
// time so the rest of the system only ever deals in seconds.
type TierConfig struct {
	BaseLimit     int64 `mapstructure:"base_limit"`
	BurstLimit    int64 `mapstructure:"burst_limit"`
	DegradedLimit int64 `mapstructure:"degraded_limit"`
	WindowMinutes int   `mapstructure:"window_minutes"`

	WindowSeconds int `mapstructure:"-"`
}

// Validate enforces degraded_limit <= base_limit <= burst_limit and
// positive, non-negative bounds.
func (t TierConfig) Validate(name string) error {
	if t.BaseLimit < 0 || t.BurstLimit < 0 || t.DegradedLimit < 0 {
		return fmt.Errorf("tier %q: limits must be non-negative", name)
	}
	if t.DegradedLimit > t.BaseLimit {
		return fmt.Errorf("tier %q: degraded_limit (%d) must be <= base_limit (%d)", name, t.DegradedLimit, t.BaseLimit)
	}
	if t.BaseLimit > t.BurstLimit {
		return fmt.Errorf("tier %q: base_limit (%d) must be <= burst_limit (%d)", name, t.BaseLimit, t.BurstLimit)
	}
	if t.WindowMinutes <= 0 {
		return fmt.Errorf("tier %q: window_minutes must be positive", name)
	}
	return nil
}

// UserConfig is a tier assignment for one user.
type UserConfig struct {
	Tier string `mapstructure:"tier"`
}

// StoreConfig is the connection configuration for the shared Redis
// coordinator.
type StoreConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DB             int           `mapstructure:"db"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// AbuseConfig parameterizes the abuse-suppression subsystem.
type AbuseConfig struct {
	MaxAttempts          int64 `mapstructure:"max_attempts"`
	AttemptWindowSeconds int   `mapstructure:"attempt_window_seconds"`
	BlockDurationSeconds int   `mapstructure:"block_duration_seconds"`
}

// MiddlewareConfig parameterizes credential extraction and the path
// allowlist on the hot path.
type MiddlewareConfig struct {
	KeyHeader          string   `mapstructure:"key_header"`
	TrustXForwardedFor bool     `mapstructure:"trust_x_forwarded_for"`
	AllowlistPaths     []string `mapstructure:"allowlist_paths"`
}

// AdminConfig holds the static admin credential. It is also settable via
// the ADMIN_KEY environment variable, which takes precedence.
type AdminConfig struct {
	Key string `mapstructure:"key"`
}

// HealthConfig parameterizes the health service's cache.
type HealthConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// Config is the root, file-shaped configuration document. It is never
// used directly by consumers; Loader converts it into an immutable
// Snapshot.
type Config struct {
	Tiers      map[string]TierConfig `mapstructure:"tiers"`
	Users      map[string]UserConfig `mapstructure:"users"`
	APIKeys    map[string]string     `mapstructure:"api_keys"`
	Store      StoreConfig           `mapstructure:"store"`
	Abuse      AbuseConfig           `mapstructure:"abuse"`
	Middleware MiddlewareConfig      `mapstructure:"middleware"`
	Admin      AdminConfig           `mapstructure:"admin"`
	Health     HealthConfig          `mapstructure:"health"`
}

// Validate checks every cross-reference and invariant the data model
// requires: tier bounds, and that every user and credential resolves to a
// tier that actually exists. Credential uniqueness is structural (it is a
// map keyed by credential) so it needs no separate check.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: at least one tier must be defined")
	}
	for name, tier := range c.Tiers {
		if err := tier.Validate(name); err != nil {
			return err
		}
	}
	for id, u := range c.Users {
		if _, ok := c.Tiers[u.Tier]; !ok {
			return fmt.Errorf("user %q: tier %q does not exist", id, u.Tier)
		}
	}
	for cred, userID := range c.APIKeys {
		if err := validCredentialFormat(cred); err != nil {
			return fmt.Errorf("credential for user %q: %w", userID, err)
		}
		if _, ok := c.Users[userID]; !ok {
			return fmt.Errorf("credential maps to unknown user %q", userID)
		}
	}
	return nil
}

// validCredentialFormat enforces the non-empty, 8-128 printable-ASCII
// rule from the data model, so malformed entries are rejected at load
// time rather than surfacing as confusing runtime 401s.
func validCredentialFormat(cred string) error {
	if len(cred) < 8 || len(cred) > 128 {
		return fmt.Errorf("credential length must be 8-128, got %d", len(cred))
	}
	for _, r := range cred {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("credential must be printable ASCII")
		}
	}
	return nil
}
