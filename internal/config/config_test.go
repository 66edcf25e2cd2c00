package config

import "testing"

func TestTierConfig_ValidateBounds(t *testing.T) {
	cases := []struct {
		name    string
		tier    TierConfig
		wantErr bool
	}{
		{"valid", TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}, false},
		{"degraded exceeds base", TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 11, WindowMinutes: 1}, true},
		{"base exceeds burst", TierConfig{BaseLimit: 30, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}, true},
		{"negative", TierConfig{BaseLimit: -1, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}, true},
		{"zero window", TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tier.Validate("free")
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_Validate_UnknownUserTier(t *testing.T) {
	cfg := &Config{
		Tiers: map[string]TierConfig{"free": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}},
		Users: map[string]UserConfig{"u1": {Tier: "nonexistent"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown tier reference")
	}
}

func TestConfig_Validate_CredentialFormat(t *testing.T) {
	cfg := &Config{
		Tiers:   map[string]TierConfig{"free": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}},
		Users:   map[string]UserConfig{"u1": {Tier: "free"}},
		APIKeys: map[string]string{"short": "u1"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for too-short credential")
	}
}

func TestConfig_Validate_CredentialUnknownUser(t *testing.T) {
	cfg := &Config{
		Tiers:   map[string]TierConfig{"free": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}},
		Users:   map[string]UserConfig{"u1": {Tier: "free"}},
		APIKeys: map[string]string{"abcdefgh12345678": "ghost"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for credential referencing unknown user")
	}
}

func TestNewSnapshot_EffectiveLimits(t *testing.T) {
	cfg := &Config{
		Tiers: map[string]TierConfig{
			"free":       {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1},
			"pro":        {BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1},
			"enterprise": {BaseLimit: 1000, BurstLimit: 1000, DegradedLimit: 1000, WindowMinutes: 1},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	snap := NewSnapshot(cfg)

	if got := snap.Limits["free"]; got.Normal != 20 || got.Degraded != 2 {
		t.Fatalf("free limits = %+v", got)
	}
	if got := snap.Limits["pro"]; got.Normal != 150 || got.Degraded != 100 {
		t.Fatalf("pro limits = %+v, want SLA-protected base_limit under degraded", got)
	}
	if got := snap.Limits["enterprise"]; got.Normal != 1000 || got.Degraded != 1000 {
		t.Fatalf("enterprise limits = %+v", got)
	}
	if snap.Tiers["free"].WindowSeconds != 60 {
		t.Fatalf("expected window_minutes to convert to 60 seconds, got %d", snap.Tiers["free"].WindowSeconds)
	}
}

func TestNewSnapshot_LowestPriorityWithoutFreeName(t *testing.T) {
	cfg := &Config{
		Tiers: map[string]TierConfig{
			"basic": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1},
			"gold":  {BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1},
		},
	}
	snap := NewSnapshot(cfg)
	if got := snap.Limits["basic"]; got.Degraded != 2 {
		t.Fatalf("expected the tier whose degraded_limit < base_limit to be treated as lowest priority, got %+v", got)
	}
	if got := snap.Limits["gold"]; got.Degraded != 100 {
		t.Fatalf("expected gold to fall back to base_limit under degraded, got %+v", got)
	}
}

func TestHolder_AtomicSwap(t *testing.T) {
	s1 := &Snapshot{Tiers: map[string]TierConfig{"a": {}}}
	s2 := &Snapshot{Tiers: map[string]TierConfig{"b": {}}}
	h := NewHolder(s1)
	if h.Load() != s1 {
		t.Fatalf("expected initial snapshot")
	}
	h.Store(s2)
	if h.Load() != s2 {
		t.Fatalf("expected swapped snapshot")
	}
}
