// Package store provides pattern-table persistence: an interface plus a
// SQLite implementation. The tracker loads the table once at startup and
// flushes it back in batches; persistence failures are survivable.
package store

import (
	"context"

	"github.com/navsense/navsense/internal/model"
)

// Store defines pattern table persistence.
type Store interface {
	// Load reads the entire pattern table. An empty database yields an
	// empty (non-nil) map.
	Load(ctx context.Context) (map[string][]model.Edge, error)

	// Save replaces the persisted pattern table with the given one.
	Save(ctx context.Context, patterns map[string][]model.Edge) error

	// Close closes the store.
	Close() error
}
