package config

import "sync/atomic"

// EffectiveLimits is the per-tier limit table precomputed at snapshot
// build time, so the hot path never recomputes tier classification.
type EffectiveLimits struct {
	Normal   int64
	Degraded int64
}

// Snapshot is the immutable, load-time-derived view of the configuration
// that the rest of the system actually reads. It is replaced as a whole
// on every successful reload; a reader that captured a pointer to one
// Snapshot keeps seeing consistent data for the lifetime of that request,
// even if a reload happens concurrently.
type Snapshot struct {
	Tiers       map[string]TierConfig
	Limits      map[string]EffectiveLimits
	Users       map[string]UserConfig
	Credentials map[string]string // credential -> user_id

	Store      StoreConfig
	Abuse      AbuseConfig
	Middleware MiddlewareConfig
	Admin      AdminConfig
	Health     HealthConfig
}

// NewSnapshot derives an immutable Snapshot from a validated Config. The
// caller must have already called Config.Validate.
func NewSnapshot(cfg *Config) *Snapshot {
	snap := &Snapshot{
		Tiers:       make(map[string]TierConfig, len(cfg.Tiers)),
		Limits:      make(map[string]EffectiveLimits, len(cfg.Tiers)),
		Users:       make(map[string]UserConfig, len(cfg.Users)),
		Credentials: make(map[string]string, len(cfg.APIKeys)),
		Store:       cfg.Store,
		Abuse:       cfg.Abuse,
		Middleware:  cfg.Middleware,
		Admin:       cfg.Admin,
		Health:      cfg.Health,
	}

	for name, tier := range cfg.Tiers {
		tier.WindowSeconds = tier.WindowMinutes * 60
		snap.Tiers[name] = tier
	}
	for name, tier := range snap.Tiers {
		snap.Limits[name] = effectiveLimits(name, tier, snap.Tiers)
	}
	for id, u := range cfg.Users {
		snap.Users[id] = u
	}
	for cred, userID := range cfg.APIKeys {
		snap.Credentials[cred] = userID
	}
	return snap
}

// effectiveLimits implements the tier classification rule: the tier
// literally named "free" is always the lowest-priority tier; otherwise
// the lowest-priority tier is the one whose degraded_limit is strictly
// below its base_limit (the only tier for which DEGRADED is meant to
// bite). Every other tier falls back to base_limit under DEGRADED so
// paying tiers keep their SLA.
func effectiveLimits(name string, tier TierConfig, all map[string]TierConfig) EffectiveLimits {
	isLowestPriority := name == "free"
	if _, hasFree := all["free"]; !hasFree {
		isLowestPriority = tier.DegradedLimit < tier.BaseLimit
	}

	limits := EffectiveLimits{Normal: tier.BurstLimit}
	if isLowestPriority {
		limits.Degraded = tier.DegradedLimit
	} else {
		limits.Degraded = tier.BaseLimit
	}
	return limits
}

// Holder publishes Snapshots via atomic pointer swap so readers never
// observe a torn mix of old and new configuration.
type Holder struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHolder wraps an initial Snapshot.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the current Snapshot. Safe for concurrent use.
func (h *Holder) Load() *Snapshot {
	return h.ptr.Load()
}

// Store atomically replaces the current Snapshot.
func (h *Holder) Store(s *Snapshot) {
	h.ptr.Store(s)
}
