package services

import (
	"context"
	"sync"
)

// runQueue serializes runs on one connection in submission order. Each
// acquirer waits for the previous acquirer's release, so completion order
// matches arrival order even when a waiter gives up.
type runQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// acquire waits for every earlier run to release. The returned release must be
// called exactly once. On ctx cancellation the slot is still handed on in
// order once the predecessor finishes.
func (q *runQueue) acquire(ctx context.Context) (release func(), err error) {
	mine := make(chan struct{})
	q.mu.Lock()
	prev := q.tail
	q.tail = mine
	q.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(mine) }) }

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	default:
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}
