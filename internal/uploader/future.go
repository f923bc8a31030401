// Package uploader contains the upload engine: the queue scheduler, the
// upload worker, the same-hash mapping resolver and the background liaison.
package uploader

import (
	"context"
	"sync"

	"github.com/prn-tf/lumen-sync/internal/domain"
)

// Future is the one-shot result handle returned by Enqueue. It is fulfilled
// exactly once, with the uploaded file record or a classified error.
type Future struct {
	once sync.Once
	done chan struct{}
	file *domain.File
	err  error
}

// NewFuture creates an unfulfilled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// fulfill completes the future. Later calls are ignored.
func (f *Future) fulfill(file *domain.File, err error) {
	f.once.Do(func() {
		f.file = file
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed on fulfillment.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is fulfilled or ctx expires.
func (f *Future) Wait(ctx context.Context) (*domain.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.file, f.err
	}
}

// Fulfilled reports whether the future has completed, without blocking.
func (f *Future) Fulfilled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
