// Package engine composes the tracker, predictor, prefetch queue,
// bandwidth window, query cache, and resource client into the
// navigation flow: record where the user went, predict where they go
// next, and warm the cache for it within budget.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/navsense/navsense/internal/api"
	"github.com/navsense/navsense/internal/cache"
	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/feed"
	"github.com/navsense/navsense/internal/pattern"
	"github.com/navsense/navsense/internal/prefetch"
)

// Fetcher is the remote client surface the engine loads through.
// *api.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Options bundle the engine's collaborators.
type Options struct {
	Tracker *pattern.Tracker
	Queue   *prefetch.Queue
	Cache   *cache.Cache
	Client  Fetcher
	Hub     *feed.Hub // optional
	Clock   clock.Clock
	Logger  *zap.Logger
	// TopN is how many predicted routes are prefetched per navigation.
	TopN int
}

// Engine drives predictive prefetching.
type Engine struct {
	tracker *pattern.Tracker
	queue   *prefetch.Queue
	cache   *cache.Cache
	client  Fetcher
	hub     *feed.Hub
	clk     clock.Clock
	log     *zap.Logger
	topN    int
}

// New wires an engine from its collaborators.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TopN <= 0 {
		opts.TopN = 3
	}

	e := &Engine{
		tracker: opts.Tracker,
		queue:   opts.Queue,
		cache:   opts.Cache,
		client:  opts.Client,
		hub:     opts.Hub,
		clk:     opts.Clock,
		log:     opts.Logger,
		topN:    opts.TopN,
	}

	if e.hub != nil {
		e.queue.SetObserver(func(route string, s prefetch.State) {
			typ := feed.TypePrefetchSucceeded
			if s == prefetch.StateAbandoned {
				typ = feed.TypePrefetchAbandoned
			}
			e.hub.Publish(feed.Event{Type: typ, Route: route, At: e.clk.Now()})
		})
	}

	return e
}

// OnNavigate handles one route transition: records it, predicts the
// likely next routes, and enqueues prefetches for them priced by score.
func (e *Engine) OnNavigate(ctx context.Context, from, to string) {
	e.tracker.RecordTransition(from, to)
	e.queue.SetCurrentRoute(to)

	if e.hub != nil {
		e.hub.Publish(feed.Event{Type: feed.TypeNavigation, Route: to, At: e.clk.Now()})
	}

	for _, p := range e.tracker.Predict(to, e.topN) {
		endpoint := api.EndpointFor(p.Route)
		if endpoint == "" {
			continue
		}
		e.queue.Enqueue(p.Route, p.Score, endpoint, e.fetchFunc(endpoint))
	}
	e.queue.Process(ctx)
}

// Load is the demand path: fetch the resource behind route through the
// cache, consuming any prefetched entry.
func (e *Engine) Load(ctx context.Context, route string) (any, error) {
	endpoint := api.EndpointFor(route)
	if endpoint == "" {
		return nil, nil
	}
	return e.cache.Get(ctx, endpoint, e.fetchFunc(endpoint))
}

func (e *Engine) fetchFunc(endpoint string) cache.FetchFunc {
	return func(ctx context.Context) (any, int, error) {
		body, err := e.client.Get(ctx, endpoint)
		if err != nil {
			return nil, 0, err
		}
		return body, len(body), nil
	}
}

// Tick advances the engine's periodic work: pattern flush, retry
// release, and the waste sweep.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.tracker.Tick(ctx, now)
	e.queue.Tick(ctx, now)
}

// Stats aggregates the engine's counters.
type Stats struct {
	Cache    cache.Stats      `json:"cache"`
	Prefetch prefetch.Metrics `json:"prefetch"`
	Dropped  int64            `json:"feed_dropped,omitempty"`
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Cache:    e.cache.Stats(),
		Prefetch: e.queue.Metrics(),
	}
	if e.hub != nil {
		s.Dropped = e.hub.Dropped()
	}
	return s
}

// Close drains in-flight prefetches and flushes patterns.
func (e *Engine) Close(ctx context.Context) error {
	e.queue.Wait()
	return e.tracker.Close(ctx)
}
