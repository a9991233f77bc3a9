package pipeline

import (
	"context"
	"sync"
)

// Promise is the completion handle every asynchronous channel/pipeline
// operation returns: exactly one of Success or Fail completes it,
// exactly once, carrying success, a typed failure, or (via ctx)
// cancellation — the three outcomes named for the operation's
// user-visible failure surface. Modeled on the job-batch completion
// handle internal/batch.Result uses for the same producer/consumer
// shape.
type Promise struct {
	done chan struct{}
	err  error
	once sync.Once
}

// NewPromise returns an incomplete promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Success completes the promise with no error.
func (p *Promise) Success() { p.complete(nil) }

// Fail completes the promise with a typed failure. Calling Fail after
// the promise is already complete is a no-op: only the first
// completion is observed.
func (p *Promise) Fail(err error) { p.complete(err) }

func (p *Promise) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done reports whether the promise has completed.
func (p *Promise) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the promise completes or ctx is done, whichever
// comes first.
func (p *Promise) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}
