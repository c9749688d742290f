package stowfs

import (
	"context"
	"sync"
)

// Lazy builds a value on first use. Concurrent callers share one
// construction; a failed construction is not remembered, so the next Get
// tries again.
type Lazy[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
	init  func(ctx context.Context) (T, error)
}

func NewLazy[T any](init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return l.value, nil
	}

	v, err := l.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	l.value = v
	l.done = true
	return v, nil
}

// Reset drops the built value so the next Get constructs a new one.
func (l *Lazy[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T
	l.value = zero
	l.done = false
}
