// Package health tracks the global system health status (NORMAL or
// DEGRADED) that the effective-limit calculator uses to choose between a
// tier's normal and degraded limits. It sits in front of the shared store
// with a short-lived cache so a burst of concurrent requests costs at
// most one Redis round trip per cache window.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"distributed-ratelimiter/internal/store"
)

// Status is the coarse system health state.
type Status string

const (
	StatusNormal   Status = "NORMAL"
	StatusDegraded Status = "DEGRADED"

	healthKey = "health:system"
)

// ErrInvalidStatus is returned by Set for any value other than
// StatusNormal or StatusDegraded.
var ErrInvalidStatus = errors.New("health: invalid status")

// Record is the full health state, including the metadata an operator
// left when they last changed it.
type Record struct {
	Status    Status
	UpdatedBy string
	Reason    string
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Service reads and writes the system health record through the shared
// store, caching reads for a short TTL and coalescing concurrent
// cache-miss refreshes into a single store call.
type Service struct {
	client   *store.Client
	cacheTTL time.Duration
	log      *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	cached   *Record
	cachedAt time.Time
}

// New builds a Service. cacheTTL defaults to 2 seconds if zero or negative.
func New(client *store.Client, cacheTTL time.Duration, log *zap.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{client: client, cacheTTL: cacheTTL, log: log}
}

// Get returns the current system status. It never returns an error: on
// any store failure (breaker open, timeout, missing key) it falls back
// to StatusNormal, since a health-read failure must never itself throttle
// traffic harder than the system would under NORMAL operation.
func (s *Service) Get(ctx context.Context) Status {
	rec := s.getRecord(ctx)
	if rec == nil {
		return StatusNormal
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return StatusNormal
	}
	return rec.Status
}

func (s *Service) getRecord(ctx context.Context) *Record {
	if rec, fresh := s.fromCache(); fresh {
		return rec
	}

	v, err, _ := s.group.Do("health", func() (interface{}, error) {
		raw, err := s.client.GetHealth(ctx, healthKey)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return &Record{Status: StatusNormal}, nil
		}
		return &Record{
			Status:    Status(raw.Status),
			UpdatedBy: raw.UpdatedBy,
			Reason:    raw.Reason,
			UpdatedAt: raw.UpdatedAt,
			ExpiresAt: raw.ExpiresAt,
		}, nil
	})
	if err != nil {
		s.log.Warn("health read failed, falling back to NORMAL", zap.Error(err))
		return nil
	}

	rec, _ := v.(*Record)
	s.storeCache(rec)
	return rec
}

// Set writes a new health record to the store and immediately refreshes
// the local cache so a subsequent Get in the same process observes it
// without waiting for the cache TTL to expire.
func (s *Service) Set(ctx context.Context, status Status, updatedBy, reason string, ttl time.Duration) error {
	if status != StatusNormal && status != StatusDegraded {
		return ErrInvalidStatus
	}
	now := time.Now().UTC()
	rec := Record{Status: status, UpdatedBy: updatedBy, Reason: reason, UpdatedAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	if err := s.client.SetHealth(ctx, healthKey, store.HealthRecord{
		Status:    string(rec.Status),
		UpdatedBy: rec.UpdatedBy,
		Reason:    rec.Reason,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, ttl); err != nil {
		return err
	}

	s.storeCache(&rec)
	return nil
}

// fromCache returns the cached record and whether it is still within TTL.
func (s *Service) fromCache() (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return nil, false
	}
	if time.Since(s.cachedAt) >= s.cacheTTL {
		return s.cached, false
	}
	return s.cached, true
}

func (s *Service) storeCache(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = rec
	s.cachedAt = time.Now()
}
