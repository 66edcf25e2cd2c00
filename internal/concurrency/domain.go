// Package concurrency bounds the number of in-flight requests the demo
// gateway forwards upstream at once, independent of the rate limiter: a
// tenant can be well within its rate budget and still need to queue
// behind a concurrency cap that protects a slow backend.
package concurrency

import "context"

// SlotPool is a finite resource: Acquire blocks until a slot is free or
// ctx is done, returning a release func that must be called exactly once.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
