package concurrency

import (
	"context"
	"time"
)

// Service applies an optional acquire timeout on top of a SlotPool.
type Service struct {
	Pool           SlotPool
	AcquireTimeout time.Duration
}

// Acquire tries to obtain a slot. If AcquireTimeout <= 0 it waits until
// ctx is cancelled; otherwise it waits at most AcquireTimeout.
func (s Service) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
