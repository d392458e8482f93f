package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/navsense/navsense/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		from_route TEXT NOT NULL,
		to_route   TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 1,
		last_visit TEXT NOT NULL,
		PRIMARY KEY (from_route, to_route)
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_from ON patterns(from_route);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the entire pattern table.
func (s *SQLiteStore) Load(ctx context.Context) (map[string][]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_route, to_route, count, last_visit FROM patterns ORDER BY from_route, count DESC`)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	patterns := make(map[string][]model.Edge)
	for rows.Next() {
		var from string
		var e model.Edge
		var lastVisit string
		if err := rows.Scan(&from, &e.To, &e.Count, &lastVisit); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		e.LastVisit, _ = time.Parse(time.RFC3339Nano, lastVisit)
		patterns[from] = append(patterns[from], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}

// Save replaces the persisted table inside a single transaction so a
// crash mid-flush never leaves a half-written table.
func (s *SQLiteStore) Save(ctx context.Context, patterns map[string][]model.Edge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns`); err != nil {
		return fmt.Errorf("clear patterns: %w", err)
	}

	for from, edges := range patterns {
		for _, e := range edges {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO patterns (from_route, to_route, count, last_visit) VALUES (?, ?, ?, ?)`,
				from, e.To, e.Count, e.LastVisit.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("insert pattern %s->%s: %w", from, e.To, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
