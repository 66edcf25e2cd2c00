package abuse

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localStore is the in-memory fallback used when the shared store is
// unreachable: a token bucket per source address, one token consumed per
// invalid attempt. It trades precision (no cross-instance visibility) for
// availability, which is the point of a fallback.
type localStore struct {
	mu           sync.Mutex
	entries      map[string]*localEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newLocalStore builds a fallback store whose bucket refills at one token
// every window/maxAttempts, with a burst of maxAttempts-1 so the
// maxAttempts-th attempt itself is the one that empties the bucket and
// blocks -- matching the shared store's "count >= maxAttempts" rule
// rather than blocking one attempt later.
func newLocalStore(maxAttempts int64, window time.Duration) *localStore {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rps := rate.Limit(float64(maxAttempts) / window.Seconds())

	burst := int(maxAttempts) - 1
	if burst < 0 {
		burst = 0
	}

	return &localStore{
		entries:      make(map[string]*localEntry),
		rps:          rps,
		burst:        burst,
		idleTTL:      2 * window,
		cleanupEvery: window,
		stop:         make(chan struct{}),
	}
}

// Get implements LimiterStore.
func (s *localStore) Get(key Key) Limiter {
	return s.get(string(key))
}

func (s *localStore) get(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &localEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *localStore) cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// startJanitor launches the periodic idle-entry sweep. Call Close to stop it.
func (s *localStore) startJanitor() {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.cleanup()
			}
		}
	}()
}

func (s *localStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
