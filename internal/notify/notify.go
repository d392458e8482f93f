// Package notify defines the user-facing notification surface (toasts
// in the original UI). Implementations must never block or fail.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Notifier surfaces user-visible outcomes.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Success(string) {}
func (Nop) Error(string)   {}

// Logging writes notifications to a zap logger for headless contexts
// with no toast surface.
type Logging struct {
	Log *zap.Logger
}

func (l Logging) Success(msg string) { l.Log.Info("notify", zap.String("toast", msg)) }
func (l Logging) Error(msg string)   { l.Log.Warn("notify", zap.String("toast", msg)) }

// Recorder captures notifications for assertions.
type Recorder struct {
	mu        sync.Mutex
	Successes []string
	Errors    []string
}

func (r *Recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Successes = append(r.Successes, msg)
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}
