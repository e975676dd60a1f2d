package broadcast

import (
	"context"
	"reflect"
	"sync"
)

// Value holds the latest value of something and tells watchers when it
// changes. Watchers only ever see the newest value; intermediate ones may be
// skipped.
type Value[T any] struct {
	mu    sync.Mutex
	v     T
	watch map[chan T]struct{}
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, watch: make(map[chan T]struct{})}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores x and reports whether it differs from the previous value.
func (v *Value[T]) Set(x T) bool {
	return v.Update(func(T) T { return x })
}

// Update replaces the value with fn's result, atomically with respect to other
// updates, and reports whether it changed.
func (v *Value[T]) Update(fn func(T) T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	x := fn(v.v)
	if reflect.DeepEqual(x, v.v) {
		return false
	}
	v.v = x
	for ch := range v.watch {
		// Drop the undelivered value, if any, so x always fits.
		select {
		case <-ch:
		default:
		}
		ch <- x
	}
	return true
}

// Watch returns a channel that receives the current value and then each new
// one. It is closed when ctx is done.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	ch <- v.v
	v.watch[ch] = struct{}{}
	v.mu.Unlock()

	context.AfterFunc(ctx, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.watch, ch)
		close(ch)
	})
	return ch
}
