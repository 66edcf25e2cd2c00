package abuse

import "time"

// Key identifies the source address an invalid-credential attempt is
// attributed to.
type Key string

// Limiter decides whether one more invalid attempt from a key is still
// tolerable right now.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtains a Limiter per key, creating one on first use.
type LimiterStore interface {
	Get(Key) Limiter
}

// Decision is the outcome of an abuse check: whether the address is
// blocked and, if so, how long until it is worth trying again.
type Decision struct {
	Blocked    bool
	RetryAfter time.Duration
}
