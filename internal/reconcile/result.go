package reconcile

import (
	"context"
	"sync"
)

// Result tracks the outcome of a write queued behind an optimistic update.
type Result struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewResult returns an unresolved Result.
func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Completed returns a Result already resolved with err.
func Completed(err error) *Result {
	r := NewResult()
	r.Complete(err)
	return r
}

// Complete resolves r. Only the first call has any effect.
func (r *Result) Complete(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed once the write has been confirmed or rolled back.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err returns the write error, or nil while unresolved or on success.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until r resolves or ctx is done.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
