package optimistic

import (
	"context"
	"sync"
)

// UpdateQueue serializes optimistic updates against one state
// container: each update's optimistic apply, remote call, and
// reconcile/rollback complete before the next update starts, in
// submission order.
type UpdateQueue[S any] struct {
	exec *Executor
	c    *Container[S]

	mu       sync.Mutex
	pending  []func()
	draining bool
	idle     chan struct{}
}

// NewUpdateQueue wraps a container with ordered update execution.
func NewUpdateQueue[S any](exec *Executor, c *Container[S]) *UpdateQueue[S] {
	return &UpdateQueue[S]{exec: exec, c: c, idle: make(chan struct{})}
}

// Submit enqueues one update and returns a channel that receives its
// Result once it has run. Updates run strictly in submission order.
func Submit[S, R any](ctx context.Context, q *UpdateQueue[S], cfg Config[S, R]) <-chan Result[R] {
	ch := make(chan Result[R], 1)
	op := func() {
		ch <- Run(ctx, q.exec, q.c, cfg)
	}

	q.mu.Lock()
	q.pending = append(q.pending, op)
	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	q.mu.Unlock()

	return ch
}

func (q *UpdateQueue[S]) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		op := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		op()
	}
}

// Wait blocks until the queue has drained.
func (q *UpdateQueue[S]) Wait() {
	q.mu.Lock()
	if !q.draining {
		q.mu.Unlock()
		return
	}
	idle := q.idle
	q.mu.Unlock()
	<-idle
}
