// Package bandwidth implements a sliding-window byte budget for
// prefetch admission. Time is always passed in explicitly so callers
// (and tests) own the clock.
package bandwidth

import (
	"sync"
	"time"
)

// Window counts bytes transferred inside a fixed-duration window. Once
// the window elapses the counter resets and the window start advances
// to the observation time.
type Window struct {
	mu       sync.Mutex
	limit    int64
	duration time.Duration
	bytes    int64
	start    time.Time
}

// NewWindow creates a window allowing limit bytes per duration. A limit
// of zero or less means unlimited.
func NewWindow(limit int64, duration time.Duration, start time.Time) *Window {
	if duration <= 0 {
		duration = time.Second
	}
	return &Window{limit: limit, duration: duration, start: start}
}

// roll resets the counter when the window has elapsed. Callers hold mu.
func (w *Window) roll(now time.Time) {
	if now.Sub(w.start) >= w.duration {
		w.bytes = 0
		w.start = now
	}
}

// Allow reports whether the budget admits starting another transfer.
// Admission is checked before a task starts and bytes are recorded on
// completion, so a burst can overshoot by up to one task's size.
func (w *Window) Allow(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll(now)
	return w.bytes < w.limit
}

// Record adds n transferred bytes to the current window.
func (w *Window) Record(n int64, now time.Time) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll(now)
	w.bytes += n
}

// Used returns the bytes counted in the current window.
func (w *Window) Used(now time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll(now)
	return w.bytes
}
