// Package abuse implements the abuse-suppression subsystem: counting
// invalid-credential attempts per source address and escalating to a
// temporary block once a threshold is crossed. The shared store is the
// primary backend, since a block must be visible across every instance;
// a local in-memory token bucket per address takes over automatically
// whenever the store is unreachable, so a Redis outage degrades coverage
// instead of disabling abuse suppression altogether.
package abuse

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"distributed-ratelimiter/internal/store"
)

// Config holds the abuse-suppression thresholds.
type Config struct {
	MaxAttempts   int64
	AttemptWindow time.Duration
	BlockDuration time.Duration
}

// Service records invalid-credential attempts and answers whether a
// source address is currently blocked.
type Service struct {
	client *store.Client
	cfg    Config
	log    *zap.Logger

	local       *localStore
	localBlocks *blockSet
}

// New builds a Service. client may be nil in tests that only exercise the
// local fallback path.
func New(client *store.Client, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 5 * time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 15 * time.Minute
	}

	local := newLocalStore(cfg.MaxAttempts, cfg.AttemptWindow)
	local.startJanitor()

	return &Service{
		client:      client,
		cfg:         cfg,
		log:         log,
		local:       local,
		localBlocks: newBlockSet(),
	}
}

// Close stops the local fallback's background janitor.
func (s *Service) Close() {
	s.local.Close()
}

// RecordInvalidAttempt registers one invalid-credential attempt from
// addr and reports whether addr is now (or already was) blocked.
func (s *Service) RecordInvalidAttempt(ctx context.Context, addr string) (Decision, error) {
	if s.client != nil {
		count, blocked, err := s.client.IncrementAbuse(ctx, addr, s.cfg.AttemptWindow, s.cfg.BlockDuration, s.cfg.MaxAttempts)
		if err == nil {
			_ = count
			dec := Decision{Blocked: blocked}
			if blocked {
				dec.RetryAfter = s.cfg.BlockDuration
			}
			return dec, nil
		}
		if !errors.Is(err, store.ErrStoreUnavailable) {
			return Decision{}, err
		}
		s.log.Warn("abuse store unavailable, using local fallback", zap.String("addr", redactAddr(addr)), zap.Error(err))
	}

	return s.recordLocal(addr), nil
}

func (s *Service) recordLocal(addr string) Decision {
	if s.localBlocks.isBlocked(addr) {
		return Decision{Blocked: true, RetryAfter: s.localBlocks.remaining(addr)}
	}
	if s.local.get(addr).Allow() {
		return Decision{Blocked: false}
	}
	s.localBlocks.block(addr, s.cfg.BlockDuration)
	return Decision{Blocked: true, RetryAfter: s.cfg.BlockDuration}
}

// IsBlocked reports whether addr is currently blocked, checking the
// shared store first and falling back to local state on store failure.
func (s *Service) IsBlocked(ctx context.Context, addr string) (Decision, error) {
	if s.client != nil {
		blocked, err := s.client.IsBlocked(ctx, addr)
		if err == nil {
			dec := Decision{Blocked: blocked}
			if blocked {
				ttl, ttlErr := s.client.BlockTTL(ctx, addr)
				if ttlErr == nil {
					dec.RetryAfter = ttl
				}
			}
			return dec, nil
		}
		if !errors.Is(err, store.ErrStoreUnavailable) {
			return Decision{}, err
		}
	}

	if s.localBlocks.isBlocked(addr) {
		return Decision{Blocked: true, RetryAfter: s.localBlocks.remaining(addr)}, nil
	}
	return Decision{Blocked: false}, nil
}

func redactAddr(addr string) string {
	if len(addr) <= 4 {
		return "***"
	}
	return addr[:4] + "***"
}
