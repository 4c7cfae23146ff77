package push

import (
	"context"
	"sync"
)

// Future is the completion of one outgoing message. Futures of a resource
// complete in send order.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewFuture returns an incomplete future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CompletedFuture returns a future that is already complete.
func CompletedFuture(err error) *Future {
	f := NewFuture()
	f.Complete(err)
	return f
}

// Complete marks the future done. Calls after the first are ignored.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the message was written or failed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
