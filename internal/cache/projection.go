package cache

import (
	"context"
	"sync"
)

// Frozen holds the first value bound to it. Later binds are ignored. The
// zero value is ready to use.
type Frozen[T any] struct {
	mu    sync.Mutex
	value T
	bound bool
	done  chan struct{}
}

// Bind sets the value if none is bound yet and reports whether it did.
func (f *Frozen[T]) Bind(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound {
		return false
	}
	f.value = v
	f.bound = true
	close(f.doneLocked())
	return true
}

// Value returns the bound value and whether one is bound.
func (f *Frozen[T]) Value() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.bound
}

// Wait blocks until a value is bound or ctx is done.
func (f *Frozen[T]) Wait(ctx context.Context) (T, error) {
	f.mu.Lock()
	done := f.doneLocked()
	f.mu.Unlock()

	select {
	case <-done:
		v, _ := f.Value()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Frozen[T]) doneLocked() chan struct{} {
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}
