package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a ranked tsquery over scene titles, restricted to public
// scenes plus scenes owned by the requester.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "s.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.RequesterID != "" {
		where += " AND (s.public OR s.owner_id = $2)"
		args = append(args, q.RequesterID)
	} else {
		where += " AND s.public"
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM scenes s WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.title,
			ts_headline('english', coalesce(s.title, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			coalesce(s.owner_id, ''), s.public
		FROM scenes s
		WHERE %s
		ORDER BY ts_rank(s.fts, plainto_tsquery('english', $1)) DESC, s.updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OwnerID, &r.Public); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable scene records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SceneRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(owner_id, ''), public
		FROM scenes
	`)
	if err != nil {
		return nil, fmt.Errorf("load scenes: %w", err)
	}
	defer rows.Close()

	records := make([]SceneRecord, 0)
	for rows.Next() {
		var rec SceneRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.OwnerID, &rec.Public); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}

	return records, nil
}
