package utils

import (
	"context"
	"errors"
	"sync"
)

// ErrNotResolved is the panic value of MustValue on an unsettled Deferred.
var ErrNotResolved = errors.New("deferred value accessed before resolution")

// Deferred is a one-shot container settled by Resolve or Reject.
// Only the first settle call has an effect.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.RWMutex
	value T
	err   error
	set   bool
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

func (d *Deferred[T]) Resolve(v T) bool {
	return d.settle(v, nil)
}

func (d *Deferred[T]) Reject(err error) bool {
	var zero T
	return d.settle(zero, err)
}

func (d *Deferred[T]) settle(v T, err error) bool {
	settled := false
	d.once.Do(func() {
		d.mu.Lock()
		d.value, d.err, d.set = v, err, err == nil
		d.mu.Unlock()
		close(d.done)
		settled = true
	})
	return settled
}

// Done is closed once the Deferred is settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the Deferred settles or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Value reports the resolved value. ok is false while pending or after Reject.
func (d *Deferred[T]) Value() (v T, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value, d.set
}

// MustValue panics if the Deferred has not been resolved.
func (d *Deferred[T]) MustValue() T {
	v, ok := d.Value()
	if !ok {
		panic(ErrNotResolved)
	}
	return v
}
