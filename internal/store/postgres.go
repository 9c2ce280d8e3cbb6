package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, COALESCE(metadata::text, '{}'), created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		var metadataRaw []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.Status, &metadataRaw, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		_ = json.Unmarshal(metadataRaw, &item.Metadata)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	var metadataRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, COALESCE(metadata::text, '{}'), created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Status, &metadataRaw, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	_ = json.Unmarshal(metadataRaw, &item.Metadata)
	return item, nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, projectID string) ([]Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, status, start_date, end_date, created_at, updated_at
		FROM phases
		WHERE project_id=$1
		ORDER BY id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	items := make([]Phase, 0)
	for rows.Next() {
		var item Phase
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Status, &item.StartDate, &item.EndDate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, phaseID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase_id, name, status, sdlc_stage, branch_name, commit_id, ci_status, qa_status, pull_request, created_at, updated_at
		FROM steps
		WHERE phase_id=$1
		ORDER BY id ASC
	`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	items := make([]Step, 0)
	for rows.Next() {
		var item Step
		if err := rows.Scan(
			&item.ID,
			&item.PhaseID,
			&item.Name,
			&item.Status,
			&item.SDLCStage,
			&item.BranchName,
			&item.CommitID,
			&item.CIStatus,
			&item.QAStatus,
			&item.PullRequest,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (Step, error) {
	return scanStep(s.db.QueryRowContext(ctx, stepQuery, stepID))
}

func (s *PostgresStore) GetProjectTree(ctx context.Context, projectID string) (ProjectTree, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return ProjectTree{}, err
	}
	phases, err := s.ListPhases(ctx, projectID)
	if err != nil {
		return ProjectTree{}, err
	}
	tree := ProjectTree{Project: project, Phases: make([]PhaseTree, 0, len(phases))}
	for _, phase := range phases {
		steps, err := s.ListSteps(ctx, phase.ID)
		if err != nil {
			return ProjectTree{}, err
		}
		tree.Phases = append(tree.Phases, PhaseTree{Phase: phase, Steps: steps})
	}
	return tree, nil
}

func (s *PostgresStore) GetGovernanceLog(ctx context.Context, logID string) (GovernanceLogEntry, error) {
	var item GovernanceLogEntry
	var detailsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, step_id, entry_type, summary, actor, COALESCE(details::text, '{}'), memory_anchor_id, created_at
		FROM governance_log
		WHERE id=$1
	`, logID).Scan(&item.ID, &item.StepID, &item.EntryType, &item.Summary, &item.Actor, &detailsRaw, &item.MemoryAnchorID, &item.CreatedAt)
	if err != nil {
		return GovernanceLogEntry{}, err
	}
	_ = json.Unmarshal(detailsRaw, &item.Details)
	return item, nil
}

// ListGovernanceLogsSince is the polling read path for the distribution
// service and the /api/governance/logs endpoint. A zero since returns the
// oldest entries up to limit. afterID is the keyset tiebreak: with it set,
// entries sharing the since timestamp but sorting after that id are included,
// so a reader paging by (created_at, id) never skips timestamp ties. An empty
// afterID keeps the strictly-after semantics of the HTTP feed.
func (s *PostgresStore) ListGovernanceLogsSince(ctx context.Context, since time.Time, afterID string, limit int) ([]GovernanceLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_id, entry_type, summary, actor, COALESCE(details::text, '{}'), memory_anchor_id, created_at
		FROM governance_log
		WHERE ($1::timestamptz IS NULL
			OR created_at > $1
			OR ($2 <> '' AND created_at = $1 AND id > $2))
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, nullTime(since), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list governance logs: %w", err)
	}
	defer rows.Close()

	items := make([]GovernanceLogEntry, 0)
	for rows.Next() {
		var item GovernanceLogEntry
		var detailsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.StepID,
			&item.EntryType,
			&item.Summary,
			&item.Actor,
			&detailsRaw,
			&item.MemoryAnchorID,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan governance log: %w", err)
		}
		_ = json.Unmarshal(detailsRaw, &item.Details)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate governance logs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMemoryAnchors(ctx context.Context, stepID string) ([]MemoryAnchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_id, status, anchor_type, content, COALESCE(tags::text, '[]'), created_at
		FROM memory_anchors
		WHERE step_id=$1
		ORDER BY created_at ASC
	`, stepID)
	if err != nil {
		return nil, fmt.Errorf("list memory anchors: %w", err)
	}
	defer rows.Close()

	items := make([]MemoryAnchor, 0)
	for rows.Next() {
		var item MemoryAnchor
		var tagsRaw []byte
		if err := rows.Scan(&item.ID, &item.StepID, &item.Status, &item.AnchorType, &item.Content, &tagsRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory anchor: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &item.Tags)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory anchors: %w", err)
	}
	return items, nil
}

// AnchoredStepCount reports how many completed steps carry at least one
// memory anchor, used by the summary endpoint.
func (s *PostgresStore) AnchoredStepCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT step_id) FROM memory_anchors
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count anchored steps: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
