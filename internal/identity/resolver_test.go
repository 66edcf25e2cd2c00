package identity

import (
	"errors"
	"testing"

	"distributed-ratelimiter/internal/config"
)

func testHolder() *config.Holder {
	cfg := &config.Config{
		Tiers: map[string]config.TierConfig{
			"free": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1},
		},
		Users:   map[string]config.UserConfig{"alice": {Tier: "free"}},
		APIKeys: map[string]string{"aaaaaaaaaaaaaaaa": "alice"},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return config.NewHolder(config.NewSnapshot(cfg))
}

func TestResolve_KnownCredential(t *testing.T) {
	r := New(testHolder())
	uid, tier, err := r.Resolve("aaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "alice" || tier != "free" {
		t.Fatalf("got (%q, %q)", uid, tier)
	}
}

func TestResolve_UnknownCredential(t *testing.T) {
	r := New(testHolder())
	_, _, err := r.Resolve("bbbbbbbbbbbbbbbb")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolve_TooShort(t *testing.T) {
	r := New(testHolder())
	_, _, err := r.Resolve("short")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolve_NonPrintableCharset(t *testing.T) {
	r := New(testHolder())
	_, _, err := r.Resolve("aaaaaaa\x01aaaaaaa")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolve_ReflectsReloadedSnapshot(t *testing.T) {
	holder := testHolder()
	r := New(holder)

	cfg := &config.Config{
		Tiers:   map[string]config.TierConfig{"pro": {BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1}},
		Users:   map[string]config.UserConfig{"bob": {Tier: "pro"}},
		APIKeys: map[string]string{"cccccccccccccccc": "bob"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	holder.Store(config.NewSnapshot(cfg))

	uid, tier, err := r.Resolve("cccccccccccccccc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "bob" || tier != "pro" {
		t.Fatalf("got (%q, %q)", uid, tier)
	}

	if _, _, err := r.Resolve("aaaaaaaaaaaaaaaa"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected old credential to no longer resolve after reload")
	}
}
