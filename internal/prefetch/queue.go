// Package prefetch implements the bandwidth-budgeted prefetch queue:
// prioritized route warm-ups with a per-route state machine, bounded
// concurrency, exponential-backoff retry, and an age-based waste sweep.
//
// Prefetching is best-effort. Errors never leave the queue; a route
// that keeps failing is silently abandoned.
package prefetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/navsense/navsense/internal/bandwidth"
	"github.com/navsense/navsense/internal/cache"
	"github.com/navsense/navsense/internal/clock"
)

// State is a route's position in the prefetch lifecycle.
type State int

const (
	StateIdle State = iota
	StateQueued
	StateActive
	StateSucceeded
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Warmer is the cache surface the queue warms. *cache.Cache satisfies it.
type Warmer interface {
	Prefetch(ctx context.Context, key string, fetch cache.FetchFunc, staleTime time.Duration) (int, error)
	EvictUnusedPrefetched(olderThan time.Duration, now time.Time) int
}

// Config tunes queue behavior.
type Config struct {
	// MaxConcurrent bounds simultaneously active prefetches.
	MaxConcurrent int
	// MaxRetries bounds re-enqueues of a failing route before it is
	// abandoned for the session.
	MaxRetries int
	// InitialBackoff scales the retry delay: min(initial * 2^failures, max).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StaleTime is the freshness window given to warmed cache entries.
	StaleTime time.Duration
	// WasteThreshold is the age past which an unused prefetched entry
	// counts as waste and is evicted by Tick.
	WasteThreshold time.Duration
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.StaleTime <= 0 {
		c.StaleTime = 30 * time.Second
	}
	if c.WasteThreshold <= 0 {
		c.WasteThreshold = 5 * time.Minute
	}
}

type task struct {
	id         string
	route      string
	cacheKey   string
	priority   float64
	fetch      cache.FetchFunc
	enqueuedAt time.Time
	notBefore  time.Time // backoff release for re-enqueued tasks
}

// Queue schedules prefetch tasks.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	bw      *bandwidth.Window
	warmer  Warmer
	clk     clock.Clock
	log     *zap.Logger
	entropy *rand.Rand

	states   map[string]State
	failures map[string]int
	queued   []*task // priority descending
	delayed  []*task // waiting out a backoff
	active   int

	currentRoute string
	obs          func(route string, s State)
	wg           sync.WaitGroup

	enqueued  atomic.Int64
	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
	deferred  atomic.Int64
}

// Metrics are point-in-time queue counters.
type Metrics struct {
	Queued    int   `json:"queued"`
	Delayed   int   `json:"delayed"`
	Active    int   `json:"active"`
	Enqueued  int64 `json:"enqueued"`
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Abandoned int64 `json:"abandoned"`
	Deferred  int64 `json:"deferred"`
}

// NewQueue creates a queue. bw may be nil for an unlimited budget.
func NewQueue(cfg Config, bw *bandwidth.Window, warmer Warmer, clk clock.Clock, log *zap.Logger) *Queue {
	cfg.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		cfg:      cfg,
		bw:       bw,
		warmer:   warmer,
		clk:      clk,
		log:      log,
		entropy:  rand.New(rand.NewSource(clk.Now().UnixNano())),
		states:   make(map[string]State),
		failures: make(map[string]int),
	}
}

// SetObserver registers a callback invoked when a route reaches a
// terminal state (Succeeded or Abandoned). Called outside the queue
// lock.
func (q *Queue) SetObserver(obs func(route string, s State)) {
	q.mu.Lock()
	q.obs = obs
	q.mu.Unlock()
}

// SetCurrentRoute records where the user is now. A queued prefetch for
// that route is dropped: the demand path is already loading it.
func (q *Queue) SetCurrentRoute(route string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentRoute = route
	if q.dropPending(route) && q.states[route] == StateQueued {
		q.states[route] = StateIdle
	}
}

// Enqueue adds a prefetch task for route. It is a no-op when route is
// the current route, already active, or abandoned. An existing queued
// entry for the route is replaced (last write wins).
func (q *Queue) Enqueue(route string, priority float64, cacheKey string, fetch cache.FetchFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if route == q.currentRoute {
		return
	}
	switch q.states[route] {
	case StateActive, StateAbandoned:
		return
	}

	q.dropPending(route)

	now := q.clk.Now()
	t := &task{
		id:         ulid.MustNew(ulid.Timestamp(now), q.entropy).String(),
		route:      route,
		cacheKey:   cacheKey,
		priority:   priority,
		fetch:      fetch,
		enqueuedAt: now,
	}
	q.queued = append(q.queued, t)
	q.sortQueuedLocked()
	q.states[route] = StateQueued
	q.enqueued.Add(1)
}

// dropPending removes any queued or delayed task for route. Callers
// hold mu.
func (q *Queue) dropPending(route string) bool {
	dropped := false
	for i, t := range q.queued {
		if t.route == route {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			dropped = true
			break
		}
	}
	for i, t := range q.delayed {
		if t.route == route {
			q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
			dropped = true
			break
		}
	}
	return dropped
}

func (q *Queue) sortQueuedLocked() {
	sort.SliceStable(q.queued, func(i, j int) bool {
		return q.queued[i].priority > q.queued[j].priority
	})
}

// Process starts as many queued tasks as the concurrency and bandwidth
// limits admit. Each completion immediately pumps the queue again.
func (q *Queue) Process(ctx context.Context) {
	q.pump(ctx)
}

func (q *Queue) pump(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.active >= q.cfg.MaxConcurrent || len(q.queued) == 0 {
			q.mu.Unlock()
			return
		}
		now := q.clk.Now()
		if q.bw != nil && !q.bw.Allow(now) {
			q.mu.Unlock()
			q.deferred.Add(1)
			q.log.Debug("prefetch deferred, bandwidth budget exhausted")
			return
		}

		t := q.queued[0]
		q.queued = q.queued[1:]
		q.states[t.route] = StateActive
		q.active++
		q.wg.Add(1)
		q.mu.Unlock()

		q.started.Add(1)
		go q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t *task) {
	defer q.wg.Done()

	size, err := q.warmer.Prefetch(ctx, t.cacheKey, t.fetch, q.cfg.StaleTime)
	now := q.clk.Now()

	q.mu.Lock()
	q.active--
	if err == nil {
		if q.bw != nil {
			q.bw.Record(int64(size), now)
		}
		q.states[t.route] = StateSucceeded
		delete(q.failures, t.route)
		q.succeeded.Add(1)
		obs := q.obs
		q.mu.Unlock()
		q.log.Debug("prefetch succeeded",
			zap.String("task", t.id), zap.String("route", t.route), zap.Int("bytes", size))
		if obs != nil {
			obs(t.route, StateSucceeded)
		}
		q.pump(ctx)
		return
	}

	q.failures[t.route]++
	count := q.failures[t.route]
	if count < q.cfg.MaxRetries {
		delay := time.Duration(float64(q.cfg.InitialBackoff) * math.Pow(2, float64(count)))
		if delay > q.cfg.MaxBackoff {
			delay = q.cfg.MaxBackoff
		}
		t.priority /= 2
		t.notBefore = now.Add(delay)
		q.delayed = append(q.delayed, t)
		q.states[t.route] = StateQueued
		q.failed.Add(1)
		q.mu.Unlock()
		q.log.Debug("prefetch failed, will retry",
			zap.String("route", t.route), zap.Int("failures", count),
			zap.Duration("delay", delay), zap.Error(err))
	} else {
		q.states[t.route] = StateAbandoned
		q.failed.Add(1)
		q.abandoned.Add(1)
		obs := q.obs
		q.mu.Unlock()
		q.log.Debug("prefetch abandoned",
			zap.String("route", t.route), zap.Int("failures", count), zap.Error(err))
		if obs != nil {
			obs(t.route, StateAbandoned)
		}
	}
	q.pump(ctx)
}

// Tick releases retry tasks whose backoff has elapsed, runs the waste
// sweep, and pumps the queue. Call it from any scheduler: a real
// ticker, a test clock loop, or manually.
func (q *Queue) Tick(ctx context.Context, now time.Time) {
	q.mu.Lock()
	var still []*task
	released := 0
	for _, t := range q.delayed {
		if !t.notBefore.After(now) {
			q.queued = append(q.queued, t)
			released++
		} else {
			still = append(still, t)
		}
	}
	q.delayed = still
	if released > 0 {
		q.sortQueuedLocked()
	}
	q.mu.Unlock()

	if q.warmer != nil {
		q.warmer.EvictUnusedPrefetched(q.cfg.WasteThreshold, now)
	}
	q.pump(ctx)
}

// RouteState returns the lifecycle state for route.
func (q *Queue) RouteState(route string) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.states[route]
}

// Wait blocks until in-flight prefetches finish. Intended for tests and
// shutdown; new work enqueued meanwhile is not waited on.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Reset clears all queue state, including abandoned routes. Session
// boundary only.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.states = make(map[string]State)
	q.failures = make(map[string]int)
	q.queued = nil
	q.delayed = nil
}

// Metrics returns current counters and depths.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	queued, delayed, active := len(q.queued), len(q.delayed), q.active
	q.mu.Unlock()
	return Metrics{
		Queued:    queued,
		Delayed:   delayed,
		Active:    active,
		Enqueued:  q.enqueued.Load(),
		Started:   q.started.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Abandoned: q.abandoned.Load(),
		Deferred:  q.deferred.Load(),
	}
}
