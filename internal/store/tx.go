package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ImportTx is the transaction handle for one bundle import. Every write the
// importer performs for a bundle goes through the same handle; Commit makes
// the whole bundle visible atomically and Rollback discards it. Reads through
// the handle see the transaction's own in-flight writes.
type ImportTx struct {
	tx *sql.Tx
}

// BeginImport opens the single transaction that spans a bundle import.
// Independent bundles may hold independent transactions concurrently.
func (s *PostgresStore) BeginImport(ctx context.Context) (*ImportTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import tx: %w", err)
	}
	return &ImportTx{tx: tx}, nil
}

func (t *ImportTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

func (t *ImportTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *ImportTx) UpsertProject(ctx context.Context, project Project) error {
	metadata := project.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, status=EXCLUDED.status, metadata=EXCLUDED.metadata, updated_at=NOW()
	`, project.ID, project.Name, project.Status, string(encoded))
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", project.ID, err)
	}
	return nil
}

func (t *ImportTx) UpsertPhase(ctx context.Context, phase Phase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO phases (id, project_id, name, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET project_id=EXCLUDED.project_id, name=EXCLUDED.name, status=EXCLUDED.status,
		    start_date=COALESCE(EXCLUDED.start_date, phases.start_date),
		    end_date=COALESCE(EXCLUDED.end_date, phases.end_date),
		    updated_at=NOW()
	`, phase.ID, phase.ProjectID, phase.Name, phase.Status, phase.StartDate, phase.EndDate)
	if err != nil {
		return fmt.Errorf("upsert phase %s: %w", phase.ID, err)
	}
	return nil
}

// UpsertStep replaces the core fields and merges SDLC metadata: empty inbound
// values leave the persisted value untouched.
func (t *ImportTx) UpsertStep(ctx context.Context, step Step) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO steps (id, phase_id, name, status, sdlc_stage, branch_name, commit_id, ci_status, qa_status, pull_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET phase_id=EXCLUDED.phase_id, name=EXCLUDED.name, status=EXCLUDED.status,
		    sdlc_stage=COALESCE(NULLIF(EXCLUDED.sdlc_stage, ''), steps.sdlc_stage),
		    branch_name=COALESCE(NULLIF(EXCLUDED.branch_name, ''), steps.branch_name),
		    commit_id=COALESCE(NULLIF(EXCLUDED.commit_id, ''), steps.commit_id),
		    ci_status=COALESCE(NULLIF(EXCLUDED.ci_status, ''), steps.ci_status),
		    qa_status=COALESCE(NULLIF(EXCLUDED.qa_status, ''), steps.qa_status),
		    pull_request=COALESCE(NULLIF(EXCLUDED.pull_request, ''), steps.pull_request),
		    updated_at=NOW()
	`, step.ID, step.PhaseID, step.Name, step.Status, step.SDLCStage, step.BranchName, step.CommitID, step.CIStatus, step.QAStatus, step.PullRequest)
	if err != nil {
		return fmt.Errorf("upsert step %s: %w", step.ID, err)
	}
	return nil
}

func (t *ImportTx) UpsertGovernanceLog(ctx context.Context, entry GovernanceLogEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal governance details: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO governance_log (id, step_id, entry_type, summary, actor, details, memory_anchor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, COALESCE($8::timestamptz, NOW()))
		ON CONFLICT (id) DO UPDATE
		SET entry_type=EXCLUDED.entry_type, summary=EXCLUDED.summary, actor=EXCLUDED.actor,
		    details=EXCLUDED.details, memory_anchor_id=EXCLUDED.memory_anchor_id
	`, entry.ID, entry.StepID, entry.EntryType, entry.Summary, entry.Actor, string(encoded), entry.MemoryAnchorID, nullTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert governance log %s: %w", entry.ID, err)
	}
	return nil
}

// GetStep reads step state inside the transaction so precondition checks see
// steps upserted earlier in the same import.
func (t *ImportTx) GetStep(ctx context.Context, stepID string) (Step, error) {
	return scanStep(t.tx.QueryRowContext(ctx, stepQuery, stepID))
}

func (t *ImportTx) InsertMemoryAnchor(ctx context.Context, anchor MemoryAnchor) error {
	tags := anchor.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal anchor tags: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO memory_anchors (id, step_id, status, anchor_type, content, tags)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, anchor.ID, anchor.StepID, anchor.Status, anchor.AnchorType, anchor.Content, string(encoded))
	if err != nil {
		return fmt.Errorf("insert memory anchor %s: %w", anchor.ID, err)
	}
	return nil
}

const stepQuery = `
	SELECT id, phase_id, name, status, sdlc_stage, branch_name, commit_id, ci_status, qa_status, pull_request, created_at, updated_at
	FROM steps
	WHERE id=$1
`

func scanStep(row *sql.Row) (Step, error) {
	var item Step
	err := row.Scan(
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
	)
	if err != nil {
		return Step{}, err
	}
	return item, nil
}
