package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is not available.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the notes fts column with ts_rank
// ordering and ts_headline snippets, scoped to the user's own notes
// plus published ones.
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

	where := "n.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.PublishedOnly {
		where += " AND n.is_editable = FALSE"
	} else {
		where += " AND (n.owner_id = $2 OR n.is_editable = FALSE)"
		args = append(args, q.UserID)
	}

	countSQL := "SELECT count(*) FROM notes n WHERE " + where

	dataSQL := fmt.Sprintf(`
		SELECT n.id, n.owner_id, n.title,
			ts_headline('english', coalesce(n.content, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			NOT n.is_editable AS published
		FROM notes n
		WHERE %s
		ORDER BY ts_rank(n.fts, plainto_tsquery('english', $1)) DESC
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
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Snippet, &r.Published); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every note for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, NOT is_editable
		FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	notes := make([]NoteRecord, 0)
	for rows.Next() {
		var n NoteRecord
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.Published); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}

	return notes, nil
}
