// Package optimistic implements the optimistic-update executor: apply a
// local state mutation immediately, perform the authoritative remote
// call, then reconcile on success or roll back to the pre-mutation
// snapshot on failure. Failures are returned as a Result record, never
// panicked or thrown past the executor boundary.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/feed"
	"github.com/navsense/navsense/internal/notify"
)

// ErrInvalidConfig is returned when a required config function is nil.
var ErrInvalidConfig = errors.New("optimistic update config incomplete")

// Container holds a state value and notifies subscribers on every
// publish. The optimistic state is published synchronously, so it is
// observable before the remote call starts.
type Container[S any] struct {
	mu    sync.Mutex
	state S
	subs  []func(S)
}

// NewContainer creates a container with the given initial state.
func NewContainer[S any](initial S) *Container[S] {
	return &Container[S]{state: initial}
}

// Get returns the current state.
func (c *Container[S]) Get() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to be invoked on every publish.
func (c *Container[S]) Subscribe(fn func(S)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// update applies fn to the state and publishes the result before
// returning.
func (c *Container[S]) update(fn func(S) S) {
	c.mu.Lock()
	c.state = fn(c.state)
	next := c.state
	subs := c.subs
	c.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
}

// set replaces the state and publishes.
func (c *Container[S]) set(s S) {
	c.update(func(S) S { return s })
}

// Config describes one optimistic update transaction.
type Config[S, R any] struct {
	// Name labels the update in logs.
	Name string
	// ApplyOptimistic produces the immediately visible local mutation.
	ApplyOptimistic func(S) S
	// RemoteCall performs the authoritative operation.
	RemoteCall func(ctx context.Context) (R, error)
	// ApplyResult reconciles the optimistic state with the response.
	ApplyResult func(S, R) S
	// ApplyRollback, if set, replaces the default restore-snapshot
	// rollback on failure.
	ApplyRollback func(S, error) S
	// SuccessMessage and ErrorMessage are surfaced as toasts when
	// non-empty.
	SuccessMessage string
	ErrorMessage   string
}

// Result reports an update's outcome. Callers never receive a panic or
// error any other way.
type Result[R any] struct {
	Success bool
	Data    R
	Err     error
}

// Executor carries the side-effect collaborators shared by updates.
type Executor struct {
	notifier notify.Notifier
	log      *zap.Logger
	hub      *feed.Hub
	clk      clock.Clock
}

// NewExecutor builds an executor. Nil collaborators default to no-ops.
func NewExecutor(n notify.Notifier, log *zap.Logger) *Executor {
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{notifier: n, log: log, clk: clock.Real{}}
}

// SetFeed publishes update outcomes to h as activity events.
func (e *Executor) SetFeed(h *feed.Hub, clk clock.Clock) {
	e.hub = h
	if clk != nil {
		e.clk = clk
	}
}

// Run executes one optimistic update against c. The optimistic state is
// published before RemoteCall begins, and exactly one of ApplyResult or
// rollback runs per invocation.
func Run[S, R any](ctx context.Context, e *Executor, c *Container[S], cfg Config[S, R]) Result[R] {
	if cfg.ApplyOptimistic == nil || cfg.RemoteCall == nil || cfg.ApplyResult == nil {
		return Result[R]{Err: ErrInvalidConfig}
	}

	snapshot := c.Get()
	c.update(cfg.ApplyOptimistic)

	resp, err := cfg.RemoteCall(ctx)
	if err != nil {
		if cfg.ApplyRollback != nil {
			c.update(func(s S) S { return cfg.ApplyRollback(s, err) })
		} else {
			c.set(snapshot)
		}
		e.log.Error("optimistic update failed, rolled back",
			zap.String("update", cfg.Name), zap.Error(err))
		if cfg.ErrorMessage != "" {
			e.notifier.Error(cfg.ErrorMessage)
		}
		if e.hub != nil {
			e.hub.Publish(feed.Event{Type: feed.TypeUpdateRolledBack, Message: cfg.Name, At: e.clk.Now()})
		}
		return Result[R]{Err: err}
	}

	c.update(func(s S) S { return cfg.ApplyResult(s, resp) })
	if cfg.SuccessMessage != "" {
		e.notifier.Success(cfg.SuccessMessage)
	}
	if e.hub != nil {
		e.hub.Publish(feed.Event{Type: feed.TypeUpdateApplied, Message: cfg.Name, At: e.clk.Now()})
	}
	return Result[R]{Success: true, Data: resp}
}
