package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/navsense/navsense/internal/bandwidth"
	"github.com/navsense/navsense/internal/cache"
	"github.com/navsense/navsense/internal/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWarmer runs fetches directly and tracks concurrency.
type fakeWarmer struct {
	mu         sync.Mutex
	concurrent int
	peak       int
	calls      []string
	sweeps     int
}

func (w *fakeWarmer) Prefetch(ctx context.Context, key string, fetch cache.FetchFunc, staleTime time.Duration) (int, error) {
	w.mu.Lock()
	w.concurrent++
	if w.concurrent > w.peak {
		w.peak = w.concurrent
	}
	w.calls = append(w.calls, key)
	w.mu.Unlock()

	_, size, err := fetch(ctx)

	w.mu.Lock()
	w.concurrent--
	w.mu.Unlock()
	return size, err
}

func (w *fakeWarmer) EvictUnusedPrefetched(olderThan time.Duration, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweeps++
	return 0
}

func (w *fakeWarmer) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func okFetch(size int) cache.FetchFunc {
	return func(ctx context.Context) (any, int, error) { return "v", size, nil }
}

func failFetch(err error) cache.FetchFunc {
	return func(ctx context.Context) (any, int, error) { return nil, 0, err }
}

func gatedFetch(gate chan struct{}, size int) cache.FetchFunc {
	return func(ctx context.Context) (any, int, error) {
		<-gate
		return "v", size, nil
	}
}

func newTestQueue(cfg Config, bw *bandwidth.Window) (*Queue, *fakeWarmer, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	w := &fakeWarmer{}
	return NewQueue(cfg, bw, w, clk, nil), w, clk
}

func TestEnqueueLastWriteWins(t *testing.T) {
	q, _, _ := newTestQueue(Config{}, nil)

	q.Enqueue("/tasks", 1.0, "tasks", okFetch(1))
	q.Enqueue("/tasks", 2.0, "tasks", okFetch(1))

	m := q.Metrics()
	assert.Equal(t, 1, m.Queued, "duplicate enqueue replaces, not appends")
}

func TestProcessOrdersByPriority(t *testing.T) {
	q, w, _ := newTestQueue(Config{MaxConcurrent: 1}, nil)
	ctx := context.Background()

	q.Enqueue("/a", 0.2, "a", okFetch(1))
	q.Enqueue("/b", 0.9, "b", okFetch(1))
	q.Enqueue("/c", 0.5, "c", okFetch(1))

	q.Process(ctx)
	q.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.calls, 3)
	assert.Equal(t, []string{"b", "c", "a"}, w.calls)
}

func TestMaxConcurrentRespected(t *testing.T) {
	q, w, _ := newTestQueue(Config{MaxConcurrent: 2}, nil)
	ctx := context.Background()
	gate := make(chan struct{})

	for _, r := range []string{"/a", "/b", "/c", "/d"} {
		q.Enqueue(r, 1.0, r, gatedFetch(gate, 1))
	}
	q.Process(ctx)

	// Only two fetches may be in flight.
	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.concurrent == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, q.Metrics().Active)

	close(gate)
	q.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 4, len(w.calls), "completions drain the rest of the queue")
	assert.LessOrEqual(t, w.peak, 2)
}

func TestActiveRouteNotDuplicated(t *testing.T) {
	q, w, _ := newTestQueue(Config{MaxConcurrent: 2}, nil)
	ctx := context.Background()
	gate := make(chan struct{})

	q.Enqueue("/a", 1.0, "a", gatedFetch(gate, 1))
	q.Process(ctx)
	assert.Eventually(t, func() bool { return q.RouteState("/a") == StateActive }, time.Second, time.Millisecond)

	// Enqueue while active is a no-op.
	q.Enqueue("/a", 5.0, "a", okFetch(1))
	assert.Zero(t, q.Metrics().Queued)

	close(gate)
	q.Wait()
	assert.Equal(t, 1, w.callCount())
}

func TestCurrentRouteNotPrefetched(t *testing.T) {
	q, _, _ := newTestQueue(Config{}, nil)

	q.SetCurrentRoute("/dashboard")
	q.Enqueue("/dashboard", 1.0, "dashboard", okFetch(1))
	assert.Zero(t, q.Metrics().Queued)

	// Navigating to a queued route drops its pending task.
	q.Enqueue("/contacts", 1.0, "contacts", okFetch(1))
	q.SetCurrentRoute("/contacts")
	assert.Zero(t, q.Metrics().Queued)
	assert.Equal(t, StateIdle, q.RouteState("/contacts"))
}

func TestRetryBackoffThenAbandon(t *testing.T) {
	cfg := Config{MaxConcurrent: 1, MaxRetries: 2, InitialBackoff: time.Second, MaxBackoff: time.Minute}
	q, _, clk := newTestQueue(cfg, nil)
	ctx := context.Background()
	boom := errors.New("fetch failed")

	q.Enqueue("/tasks", 1.0, "tasks", failFetch(boom))
	q.Process(ctx)
	q.Wait()

	// First failure: re-queued behind a backoff, not yet runnable.
	m := q.Metrics()
	assert.Equal(t, 1, m.Delayed)
	assert.EqualValues(t, 1, m.Failed)
	assert.Equal(t, StateQueued, q.RouteState("/tasks"))

	// Backoff is min(initial * 2^failures, max) = 2s; one second in, still held.
	clk.Advance(time.Second)
	q.Tick(ctx, clk.Now())
	q.Wait()
	assert.EqualValues(t, 1, q.Metrics().Failed)

	clk.Advance(1500 * time.Millisecond)
	q.Tick(ctx, clk.Now())
	q.Wait()

	// Second failure hits MaxRetries: terminal.
	m = q.Metrics()
	assert.EqualValues(t, 2, m.Failed)
	assert.EqualValues(t, 1, m.Abandoned)
	assert.Equal(t, StateAbandoned, q.RouteState("/tasks"))

	// Abandoned routes are never re-enqueued.
	q.Enqueue("/tasks", 9.0, "tasks", okFetch(1))
	assert.Zero(t, q.Metrics().Queued)
}

func TestBandwidthBudgetDefers(t *testing.T) {
	clkStart := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	bw := bandwidth.NewWindow(100, time.Minute, clkStart)
	q, w, clk := newTestQueue(Config{MaxConcurrent: 1}, bw)
	ctx := context.Background()

	q.Enqueue("/big", 1.0, "big", okFetch(150))
	q.Process(ctx)
	q.Wait()
	require.Equal(t, 1, w.callCount())

	// Budget consumed: the next task must wait for the window to roll.
	q.Enqueue("/small", 1.0, "small", okFetch(10))
	q.Process(ctx)
	q.Wait()
	assert.Equal(t, 1, w.callCount())
	assert.EqualValues(t, 1, q.Metrics().Deferred)
	assert.Equal(t, 1, q.Metrics().Queued)

	clk.Advance(61 * time.Second)
	q.Tick(ctx, clk.Now())
	q.Wait()
	assert.Equal(t, 2, w.callCount())
	assert.Equal(t, StateSucceeded, q.RouteState("/small"))
}

func TestTickRunsWasteSweep(t *testing.T) {
	q, w, clk := newTestQueue(Config{}, nil)

	q.Tick(context.Background(), clk.Now())
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 1, w.sweeps)
}

func TestResetClearsAbandoned(t *testing.T) {
	cfg := Config{MaxConcurrent: 1, MaxRetries: 1}
	q, w, _ := newTestQueue(cfg, nil)
	ctx := context.Background()

	q.Enqueue("/x", 1.0, "x", failFetch(errors.New("nope")))
	q.Process(ctx)
	q.Wait()
	require.Equal(t, StateAbandoned, q.RouteState("/x"))

	q.Reset()
	q.Enqueue("/x", 1.0, "x", okFetch(1))
	q.Process(ctx)
	q.Wait()
	assert.Equal(t, StateSucceeded, q.RouteState("/x"))
	assert.Equal(t, 2, w.callCount())
}
