package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navsense/navsense/internal/clock"
)

func fixedFetch(val string, size int, calls *atomic.Int64) FetchFunc {
	return func(ctx context.Context) (any, int, error) {
		calls.Add(1)
		return val, size, nil
	}
}

func TestGetCachesUntilStale(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(Config{DefaultStaleTime: 10 * time.Second}, clk, nil)
	ctx := context.Background()

	var calls atomic.Int64
	fetch := fixedFetch("contacts", 256, &calls)

	v, err := c.Get(ctx, "contacts", fetch)
	require.NoError(t, err)
	assert.Equal(t, "contacts", v)
	require.EqualValues(t, 1, calls.Load())

	// Fresh: served from cache.
	clk.Advance(5 * time.Second)
	_, err = c.Get(ctx, "contacts", fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	// Stale: refetched.
	clk.Advance(6 * time.Second)
	_, err = c.Get(ctx, "contacts", fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	st := c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
}

func TestGetRetriesThenFails(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, clk, nil)

	var calls atomic.Int64
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (any, int, error) {
		calls.Add(1)
		return nil, 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus two retries")
}

func TestGetDeduplicatesConcurrentLoads(t *testing.T) {
	c := New(Config{}, clock.NewFake(time.Unix(1000, 0)), nil)

	var calls atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, int, error) {
		calls.Add(1)
		<-release
		return "v", 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	// Give the goroutines a moment to pile onto the singleflight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent loads for one key coalesce")
}

func TestGetCoalescesWithInFlightPrefetch(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(Config{}, clk, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	fetch := func(ctx context.Context) (any, int, error) {
		calls.Add(1)
		close(started)
		<-release
		return "contacts-body", 128, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var size int
	var perr error
	go func() {
		defer wg.Done()
		size, perr = c.Prefetch(ctx, "contacts", fetch, time.Minute)
	}()
	<-started

	done := make(chan struct{})
	var got any
	var gerr error
	go func() {
		defer close(done)
		got, gerr = c.Get(ctx, "contacts", fixedFetch("other", 1, &calls))
	}()
	// Give the Get a moment to join the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	<-done

	require.NoError(t, perr)
	require.NoError(t, gerr)
	assert.Equal(t, "contacts-body", got, "coalesced demand load must see the fetched value")
	assert.Equal(t, 128, size)
	assert.EqualValues(t, 1, calls.Load())

	// The coalesced demand read counts as access: the entry is not
	// waste.
	clk.Advance(time.Hour)
	assert.Zero(t, c.EvictUnusedPrefetched(time.Minute, clk.Now()))
}

func TestPrefetchWarmsWithoutAccess(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(Config{}, clk, nil)
	ctx := context.Background()

	var calls atomic.Int64
	size, err := c.Prefetch(ctx, "tasks", fixedFetch("tasks", 512, &calls), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 512, size)

	// A later Get hits the warmed entry without fetching.
	v, err := c.Get(ctx, "tasks", fixedFetch("other", 1, &calls))
	require.NoError(t, err)
	assert.Equal(t, "tasks", v)
	assert.EqualValues(t, 1, calls.Load())

	// Prefetching a fresh key is a no-op.
	size, err = c.Prefetch(ctx, "tasks", fixedFetch("tasks", 512, &calls), 30*time.Second)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWasteSweepEvictsUnusedPrefetches(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := New(Config{DefaultStaleTime: time.Hour}, clk, nil)
	ctx := context.Background()

	var calls atomic.Int64
	c.Prefetch(ctx, "used", fixedFetch("u", 1, &calls), time.Hour)
	c.Prefetch(ctx, "unused", fixedFetch("w", 1, &calls), time.Hour)

	// Consume one of them.
	c.Get(ctx, "used", fixedFetch("u", 1, &calls))

	clk.Advance(10 * time.Minute)
	n := c.EvictUnusedPrefetched(5*time.Minute, clk.Now())
	assert.Equal(t, 1, n)

	st := c.Stats()
	assert.EqualValues(t, 1, st.Wasted)
	assert.Equal(t, 1, st.Entries)

	// Demand-loaded entries are never swept.
	c.Get(ctx, "demand", fixedFetch("d", 1, &calls))
	clk.Advance(10 * time.Minute)
	assert.Zero(t, c.EvictUnusedPrefetched(5*time.Minute, clk.Now()))
}
