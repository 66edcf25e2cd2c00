package ratelimit

import "errors"

// Sentinel errors the Orchestrator returns to distinguish reject reasons
// the middleware adapter needs to translate into specific status codes
// and headers. Decide never returns ErrStoreUnavailable: an unavailable
// store makes it fail open instead.
var (
	ErrInvalidCredential = errors.New("ratelimit: invalid credential")
	ErrBlocked           = errors.New("ratelimit: source address blocked")
	ErrLimitExceeded     = errors.New("ratelimit: limit exceeded")
	ErrStoreUnavailable  = errors.New("ratelimit: store unavailable")
	ErrConfigInvalid     = errors.New("ratelimit: configuration invalid")
)
