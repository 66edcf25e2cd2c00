// Package identity resolves an opaque credential string to a user id and
// tier, against the current configuration snapshot. It performs no I/O.
package identity

import (
	"errors"

	"distributed-ratelimiter/internal/config"
)

// ErrInvalidCredential covers both malformed credentials (wrong length or
// charset) and well-formed credentials that simply aren't on file. Both
// cases get the same response on the hot path, by design: leaking the
// distinction would tell a scanner which credentials are "close".
var ErrInvalidCredential = errors.New("identity: invalid credential")

const (
	minCredentialLength = 8
	maxCredentialLength = 128
)

// Resolver looks up a credential against a config snapshot source.
type Resolver struct {
	snapshots func() *config.Snapshot
}

// New builds a Resolver that always reads the latest snapshot from
// holder.
func New(holder *config.Holder) *Resolver {
	return &Resolver{snapshots: holder.Load}
}

// Resolve maps a credential to (userID, tier). Format failures never
// touch the snapshot's credential map at all, so a flood of garbage
// strings costs nothing but a length/charset scan.
func (r *Resolver) Resolve(credential string) (userID, tier string, err error) {
	if !validFormat(credential) {
		return "", "", ErrInvalidCredential
	}

	snap := r.snapshots()
	uid, ok := snap.Credentials[credential]
	if !ok {
		return "", "", ErrInvalidCredential
	}
	user, ok := snap.Users[uid]
	if !ok {
		// Invariant violation: a credential map entry without a matching
		// user. Treat it the same as an invalid credential rather than
		// panicking or leaking an internal error to the caller.
		return "", "", ErrInvalidCredential
	}
	return uid, user.Tier, nil
}

func validFormat(credential string) bool {
	if len(credential) < minCredentialLength || len(credential) > maxCredentialLength {
		return false
	}
	for _, r := range credential {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}
