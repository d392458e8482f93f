package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string       `json:"db_path"`
	DBSizeBytes int64        `json:"db_size_bytes"`
	TotalEdges  int          `json:"total_edges"`
	Routes      []RouteStats `json:"routes"`
}

// RouteStats holds per-origin-route counts.
type RouteStats struct {
	From        string `json:"from"`
	Edges       int    `json:"edges"`
	Transitions int    `json:"transitions"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&st.TotalEdges)

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_route, COUNT(*) AS edges, SUM(count) AS transitions
		FROM patterns
		GROUP BY from_route ORDER BY transitions DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var rs RouteStats
		rows.Scan(&rs.From, &rs.Edges, &rs.Transitions)
		st.Routes = append(st.Routes, rs)
	}

	return st, nil
}
