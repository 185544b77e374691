package eventloop

import (
	"context"
	"sync"

	"github.com/roach88/courier/internal/fault"
)

type result[T any] struct {
	value T
	err   error
}

// Responder resolves its paired Response exactly once.
//
// Every handler defers Close, so a Responder that goes out of scope without
// Send (early return, panic) resolves its Response with fault.ErrCancelled.
type Responder[T any] struct {
	once sync.Once
	ch   chan result[T]
}

// Response is the waiting side of a Responder.
type Response[T any] struct {
	ch <-chan result[T]
}

// NewResponder returns a connected Responder/Response pair.
func NewResponder[T any]() (*Responder[T], *Response[T]) {
	ch := make(chan result[T], 1)
	return &Responder[T]{ch: ch}, &Response[T]{ch: ch}
}

// Send resolves the Response. Returns false if it was already resolved.
// Never blocks, even if nobody waits anymore.
func (r *Responder[T]) Send(v T, err error) bool {
	sent := false
	r.once.Do(func() {
		r.ch <- result[T]{value: v, err: err}
		sent = true
	})
	return sent
}

// Close resolves the Response with fault.ErrCancelled unless Send was
// already called.
func (r *Responder[T]) Close() {
	var zero T
	r.Send(zero, fault.ErrCancelled)
}

// Wait blocks until the Responder resolves or ctx is done. Giving up on
// the wait does not cancel the work producing the result.
func (r *Response[T]) Wait(ctx context.Context) (T, error) {
	select {
	case res := <-r.ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
