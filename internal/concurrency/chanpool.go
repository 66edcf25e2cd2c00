package concurrency

import "context"

type chanPool struct {
	sem chan struct{}
}

// NewChanPool builds a SlotPool backed by a buffered channel of capacity max.
func NewChanPool(max int) SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
