// Package store wraps the shared Redis coordinator behind a pooled client,
// per-call deadlines, and a circuit breaker.
package store

import "errors"

// ErrStoreUnavailable is returned for every call made while the circuit
// breaker is open, and for calls that exceed their deadline. Callers on the
// rate-limit path must treat it as fail-open; callers on the health path
// must treat it as "assume NORMAL".
var ErrStoreUnavailable = errors.New("store: unavailable")

// ErrScriptResult indicates a Lua script returned a shape the client could
// not parse. This is always an internal bug, never a caller input error.
var ErrScriptResult = errors.New("store: unexpected script result")
