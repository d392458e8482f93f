package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/navsense/navsense/internal/api"
	"github.com/navsense/navsense/internal/cache"
	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/feed"
	"github.com/navsense/navsense/internal/model"
	"github.com/navsense/navsense/internal/pattern"
	"github.com/navsense/navsense/internal/prefetch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient serves canned bodies and records paths fetched.
type fakeClient struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]error
}

func (f *fakeClient) Get(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	err := f.fail[path]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []byte(`{"resource":"` + path + `"}`), nil
}

func (f *fakeClient) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newTestEngine(t *testing.T, client *fakeClient) (*Engine, *clock.Fake, *feed.Hub) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	tr := pattern.NewTracker(pattern.Config{}, nil, clk, nil)
	c := cache.New(cache.Config{DefaultStaleTime: time.Minute}, clk, nil)
	q := prefetch.NewQueue(prefetch.Config{MaxConcurrent: 2, MaxRetries: 2, StaleTime: time.Minute}, nil, c, clk, nil)
	hub := feed.NewHub()

	e := New(Options{
		Tracker: tr, Queue: q, Cache: c, Client: client,
		Hub: hub, Clock: clk, TopN: 2,
	})
	return e, clk, hub
}

func drain(e *Engine) { e.queue.Wait() }

func TestNavigationWarmsPredictedRoutes(t *testing.T) {
	client := &fakeClient{}
	e, _, _ := newTestEngine(t, client)
	ctx := context.Background()

	// Build history: dashboard -> contacts dominates.
	for i := 0; i < 3; i++ {
		e.OnNavigate(ctx, model.RouteDashboard, model.RouteContacts)
		drain(e)
		e.OnNavigate(ctx, model.RouteContacts, model.RouteDashboard)
		drain(e)
	}

	// Arriving at the dashboard should have prefetched contacts.
	fetched := client.fetched()
	assert.Contains(t, fetched, api.EndpointFor(model.RouteContacts))

	// The demand load then hits the warmed cache, not the network.
	before := len(client.fetched())
	_, err := e.Load(ctx, model.RouteContacts)
	require.NoError(t, err)
	assert.Len(t, client.fetched(), before, "demand load served from warmed cache")

	st := e.Stats()
	assert.Positive(t, st.Cache.Hits)
	assert.Positive(t, st.Prefetch.Succeeded)
}

func TestColdStartUsesDefaultTable(t *testing.T) {
	client := &fakeClient{}
	e, _, _ := newTestEngine(t, client)
	ctx := context.Background()

	e.OnNavigate(ctx, "", model.RouteDashboard)
	drain(e)

	// Defaults for the dashboard lead with contacts and tasks.
	fetched := client.fetched()
	assert.Contains(t, fetched, api.EndpointFor(model.RouteContacts))
	assert.Contains(t, fetched, api.EndpointFor(model.RouteTasks))
}

func TestFeedReceivesEvents(t *testing.T) {
	client := &fakeClient{}
	e, _, hub := newTestEngine(t, client)
	events, cancel := hub.Subscribe(32)
	defer cancel()
	ctx := context.Background()

	e.OnNavigate(ctx, "", model.RouteDashboard)
	drain(e)

	types := map[string]int{}
	for len(events) > 0 {
		ev := <-events
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[feed.TypeNavigation])
	assert.Positive(t, types[feed.TypePrefetchSucceeded])
}

func TestPrefetchFailuresStaySilent(t *testing.T) {
	client := &fakeClient{fail: map[string]error{
		api.EndpointFor(model.RouteContacts): errors.New("backend down"),
	}}
	e, clk, _ := newTestEngine(t, client)
	ctx := context.Background()

	e.OnNavigate(ctx, "", model.RouteDashboard)
	drain(e)

	// Walk through retries until the route is abandoned.
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		e.Tick(ctx, clk.Now())
		drain(e)
	}

	st := e.Stats()
	assert.EqualValues(t, 1, st.Prefetch.Abandoned)

	// The demand path still works and surfaces nothing about prefetch.
	client.mu.Lock()
	delete(client.fail, api.EndpointFor(model.RouteContacts))
	client.mu.Unlock()
	_, err := e.Load(ctx, model.RouteContacts)
	assert.NoError(t, err)
}
