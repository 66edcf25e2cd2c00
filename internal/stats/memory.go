package stats

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-process Store. It does not expire entries
// and is meant for the demo gateway and tests, not production scale.
type MemoryStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byTier  map[string]Counters

	trackTiers bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTrackTiers enables per-tier breakdowns, off by default to bound
// cardinality on deployments with many distinct tiers.
func WithTrackTiers(track bool) MemoryOption {
	return func(s *MemoryStore) { s.trackTiers = track }
}

// NewMemoryStore builds a MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byRoute: make(map[string]Counters),
		byTier:  make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Allowed {
		s.total.Allowed++
		c := s.byRoute[route]
		c.Allowed++
		s.byRoute[route] = c
		if s.trackTiers {
			t := s.byTier[ev.Tier]
			t.Allowed++
			s.byTier[ev.Tier] = t
		}
		return nil
	}

	s.total.Denied++
	c := s.byRoute[route]
	c.Denied++
	s.byRoute[route] = c
	if s.trackTiers {
		t := s.byTier[ev.Tier]
		t.Denied++
		s.byTier[ev.Tier] = t
	}
	return nil
}

// Total returns the cumulative allowed/denied counters.
func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRoute returns a copy of the per-route breakdown.
func (s *MemoryStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

// ByTier returns a copy of the per-tier breakdown, empty unless
// WithTrackTiers was set.
func (s *MemoryStore) ByTier() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byTier))
	for k, v := range s.byTier {
		out[k] = v
	}
	return out
}
