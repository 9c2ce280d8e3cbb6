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

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a full-text query over governance_log using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	where := "fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2
	if q.FilterEntryType != "" {
		where += fmt.Sprintf(" AND entry_type = $%d", argN)
		args = append(args, q.FilterEntryType)
		argN++
	}
	if q.FilterStepID != "" {
		where += fmt.Sprintf(" AND step_id = $%d", argN)
		args = append(args, q.FilterStepID)
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM governance_log WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, step_id, entry_type, summary,
			ts_headline('english', summary, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			actor, coalesce(memory_anchor_id, '')
		FROM governance_log
		WHERE %s
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.StepID, &r.EntryType, &r.Summary, &r.Snippet, &r.Actor, &r.MemoryAnchorID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all governance entries for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, step_id, entry_type, summary, actor, coalesce(memory_anchor_id, '')
		FROM governance_log
	`)
	if err != nil {
		return nil, fmt.Errorf("load governance entries: %w", err)
	}
	defer rows.Close()

	entries := make([]EntryRecord, 0)
	for rows.Next() {
		var e EntryRecord
		if err := rows.Scan(&e.ID, &e.StepID, &e.EntryType, &e.Summary, &e.Actor, &e.MemoryAnchorID); err != nil {
			return nil, fmt.Errorf("scan governance entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate governance entries: %w", err)
	}
	return entries, nil
}
