// Package pattern tracks route-to-route navigation history and predicts
// likely next routes. The tracker is an explicitly constructed service:
// tests build isolated instances with a fake clock and an in-memory or
// nil store.
package pattern

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/model"
	"github.com/navsense/navsense/internal/store"
)

// Config tunes tracking and prediction.
type Config struct {
	// MaxEdgesPerRoute caps how many outbound edges are kept per origin
	// route. When exceeded, the least-frequent tail is discarded.
	MaxEdgesPerRoute int
	// ProbabilityThreshold filters predictions whose raw transition
	// probability falls below it.
	ProbabilityThreshold float64
	// RecencyWeight controls how strongly recent visits outrank older
	// ones. Tunable, not load-bearing.
	RecencyWeight float64
	// FlushInterval is the minimum quiet period between persistence
	// flushes. Writes are batched, not per-transition.
	FlushInterval time.Duration
}

func (c *Config) defaults() {
	if c.MaxEdgesPerRoute <= 0 {
		c.MaxEdgesPerRoute = 10
	}
	if c.ProbabilityThreshold <= 0 {
		c.ProbabilityThreshold = 0.05
	}
	if c.RecencyWeight <= 0 {
		c.RecencyWeight = 0.1
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
}

// Tracker maintains the transition frequency table.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	edges map[string][]model.Edge
	st    store.Store
	clk   clock.Clock
	log   *zap.Logger

	// gen counts mutations; flushed is the generation last persisted.
	// A mutation landing while a save is in flight keeps the table due
	// for another flush.
	gen       int64
	flushed   int64
	lastFlush time.Time
}

// NewTracker builds a tracker and loads persisted history once. A nil
// store, or a store that fails to load, degrades to memory-only
// operation for the session.
func NewTracker(cfg Config, st store.Store, clk clock.Clock, log *zap.Logger) *Tracker {
	cfg.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	t := &Tracker{
		cfg:       cfg,
		edges:     make(map[string][]model.Edge),
		st:        st,
		clk:       clk,
		log:       log,
		lastFlush: clk.Now(),
	}

	if st != nil {
		loaded, err := st.Load(context.Background())
		if err != nil {
			t.log.Warn("pattern load failed, continuing memory-only", zap.Error(err))
			t.st = nil
		} else {
			t.edges = loaded
		}
	}

	return t
}

// RecordTransition increments the (from, to) edge or inserts it with
// count 1, refreshing its last-visit timestamp. The edge list is capped
// at MaxEdgesPerRoute by discarding the least-frequent tail.
func (t *Tracker) RecordTransition(from, to string) {
	if from == "" || to == "" || from == to {
		return
	}
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	edges := t.edges[from]
	found := false
	for i := range edges {
		if edges[i].To == to {
			edges[i].Count++
			edges[i].LastVisit = now
			found = true
			break
		}
	}
	if !found {
		edges = append(edges, model.Edge{To: to, Count: 1, LastVisit: now})
	}

	if len(edges) > t.cfg.MaxEdgesPerRoute {
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].Count != edges[j].Count {
				return edges[i].Count > edges[j].Count
			}
			return edges[i].LastVisit.After(edges[j].LastVisit)
		})
		edges = edges[:t.cfg.MaxEdgesPerRoute]
	}

	t.edges[from] = edges
	t.gen++
}

// Predict returns up to limit ranked next-route candidates for from.
// With no recorded history the static default table answers instead, so
// cold-start behavior is deterministic rather than empty. Scores are a
// pure function of the recorded history and the current clock reading.
func (t *Tracker) Predict(from string, limit int) []model.Prediction {
	if limit <= 0 {
		return nil
	}
	now := t.clk.Now()

	t.mu.Lock()
	edges := make([]model.Edge, len(t.edges[from]))
	copy(edges, t.edges[from])
	t.mu.Unlock()

	if len(edges) == 0 {
		return defaultPredictions(from, limit)
	}

	total := 0
	for _, e := range edges {
		total += e.Count
	}

	preds := make([]model.Prediction, 0, len(edges))
	for _, e := range edges {
		p := float64(e.Count) / float64(total)
		if p < t.cfg.ProbabilityThreshold {
			continue
		}
		preds = append(preds, model.Prediction{
			Route:       e.To,
			Probability: p,
			Score:       p * (1 + t.cfg.RecencyWeight/ageDays(now, e.LastVisit)),
		})
	}

	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].Route < preds[j].Route
	})

	if len(preds) > limit {
		preds = preds[:limit]
	}
	return preds
}

// ageDays converts an edge's age to days, floored at one hour so a
// just-visited edge gets a large but bounded recency boost.
func ageDays(now, lastVisit time.Time) float64 {
	days := now.Sub(lastVisit).Hours() / 24
	const floor = 1.0 / 24
	if days < floor {
		return floor
	}
	return days
}

func defaultPredictions(from string, limit int) []model.Prediction {
	routes := model.DefaultTransitions[from]
	if len(routes) > limit {
		routes = routes[:limit]
	}
	preds := make([]model.Prediction, 0, len(routes))
	for i, r := range routes {
		preds = append(preds, model.Prediction{
			Route: r,
			Score: 1 / float64(i+1),
		})
	}
	return preds
}

// Patterns returns a copy of the in-memory table.
func (t *Tracker) Patterns() map[string][]model.Edge {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][]model.Edge, len(t.edges))
	for from, edges := range t.edges {
		cp := make([]model.Edge, len(edges))
		copy(cp, edges)
		out[from] = cp
	}
	return out
}

// Tick flushes recorded patterns if the table is dirty and the flush
// interval has elapsed. Storage failures are logged and swallowed; the
// tracker keeps operating in memory.
func (t *Tracker) Tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	due := t.gen != t.flushed && now.Sub(t.lastFlush) >= t.cfg.FlushInterval
	t.mu.Unlock()

	if !due {
		return
	}
	if err := t.Flush(ctx); err != nil {
		t.log.Warn("pattern flush failed", zap.Error(err))
	}
}

// Flush writes the full table to the store immediately.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.st == nil || t.gen == t.flushed {
		t.lastFlush = t.clk.Now()
		t.mu.Unlock()
		return nil
	}
	gen := t.gen
	snapshot := make(map[string][]model.Edge, len(t.edges))
	for from, edges := range t.edges {
		cp := make([]model.Edge, len(edges))
		copy(cp, edges)
		snapshot[from] = cp
	}
	st := t.st
	t.mu.Unlock()

	if err := st.Save(ctx, snapshot); err != nil {
		return err
	}

	t.mu.Lock()
	t.flushed = gen
	t.lastFlush = t.clk.Now()
	t.mu.Unlock()
	return nil
}

// Close flushes pending writes.
func (t *Tracker) Close(ctx context.Context) error {
	return t.Flush(ctx)
}
