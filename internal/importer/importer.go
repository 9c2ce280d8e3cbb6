// Package importer is the governance import pipeline: validate a bundle,
// fingerprint it, persist the whole hierarchy inside one transaction, then
// evaluate automation triggers, record the audit trail, and publish
// distribution events for the committed governance entries.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"wombat/api/internal/audit"
	"wombat/api/internal/bundle"
	"wombat/api/internal/store"
	"wombat/api/internal/triggers"
	"wombat/api/internal/util"
)

// Tx is the transaction handle the importer writes through. Writes are
// strictly sequential: later writes depend on earlier ones being visible
// within the same transaction.
type Tx interface {
	UpsertProject(ctx context.Context, project store.Project) error
	UpsertPhase(ctx context.Context, phase store.Phase) error
	UpsertStep(ctx context.Context, step store.Step) error
	UpsertGovernanceLog(ctx context.Context, entry store.GovernanceLogEntry) error
	GetStep(ctx context.Context, stepID string) (store.Step, error)
	InsertMemoryAnchor(ctx context.Context, anchor store.MemoryAnchor) error
	Commit() error
	Rollback() error
}

// Coordinator owns begin/commit/rollback over the persistence backend.
// Independent bundles may import concurrently under independent transactions.
type Coordinator interface {
	BeginImport(ctx context.Context) (Tx, error)
}

// PostgresCoordinator adapts the Postgres store to the Coordinator interface.
type PostgresCoordinator struct {
	Store *store.PostgresStore
}

func (c PostgresCoordinator) BeginImport(ctx context.Context) (Tx, error) {
	return c.Store.BeginImport(ctx)
}

// TriggerEvaluator runs post-commit automation predicates.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, snap triggers.Snapshot) []triggers.Outcome
}

// AuditLog receives one record per import attempt.
type AuditLog interface {
	Append(ctx context.Context, rec audit.Record) error
}

// EventPublisher pushes committed governance entries to the distribution
// channels. Publish failures are logged, never surfaced to the import caller.
type EventPublisher interface {
	PublishCreated(ctx context.Context, entry store.GovernanceLogEntry) error
}

type RecordCounts struct {
	Phases         int `json:"phases"`
	Steps          int `json:"steps"`
	GovernanceLogs int `json:"governanceLogs"`
	Total          int `json:"total"`
}

type TriggerResult struct {
	Agent     string `json:"agent"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Result struct {
	ImportID        string          `json:"importId"`
	Success         bool            `json:"success"`
	RecordsImported RecordCounts    `json:"recordsImported"`
	AgentTriggers   []TriggerResult `json:"agentTriggers"`
	PayloadHash     string          `json:"payloadHash"`
	Timestamp       time.Time       `json:"timestamp"`
}

type AnchorResult struct {
	ImportID        string    `json:"importId"`
	Success         bool      `json:"success"`
	AnchorsImported int       `json:"anchorsImported"`
	PayloadHash     string    `json:"payloadHash"`
	Timestamp       time.Time `json:"timestamp"`
}

// Importer walks validated bundles into the store. All collaborators are
// injected; the importer holds no ambient state beyond the in-flight
// fingerprint guard.
type Importer struct {
	coordinator Coordinator
	evaluator   TriggerEvaluator
	auditLog    AuditLog
	publisher   EventPublisher

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(coordinator Coordinator, evaluator TriggerEvaluator, auditLog AuditLog, publisher EventPublisher) *Importer {
	return &Importer{
		coordinator: coordinator,
		evaluator:   evaluator,
		auditLog:    auditLog,
		publisher:   publisher,
		inFlight:    make(map[string]struct{}),
	}
}

// ImportBundle runs the full pipeline for one bundle. The caller observes
// success or a typed error; the transaction always runs to commit or rollback
// even if the caller abandons the result.
func (i *Importer) ImportBundle(ctx context.Context, raw []byte) (Result, error) {
	importID := util.NewID("imp")

	b, err := bundle.Validate(raw)
	if err != nil {
		i.recordAudit(ctx, audit.Record{
			Fingerprint:  bundle.RawFingerprint(raw),
			Operation:    "import_bundle",
			Status:       audit.StatusError,
			ErrorMessage: err.Error(),
			Details:      map[string]any{"importId": importID},
		})
		return Result{}, err
	}

	hash, err := bundle.Fingerprint(b.Project)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint bundle: %w", err)
	}

	if !i.acquire(hash) {
		dup := &DuplicateImportError{Fingerprint: hash}
		i.recordAudit(ctx, audit.Record{
			Fingerprint:  hash,
			Operation:    "import_bundle",
			Status:       audit.StatusError,
			ErrorMessage: dup.Error(),
			Details:      map[string]any{"importId": importID, "projectId": b.Project.ProjectID},
		})
		return Result{}, dup
	}
	defer i.release(hash)

	// Caller cancellation must not abort a transaction mid-write.
	opCtx := context.WithoutCancel(ctx)

	counts, entries, err := i.writeBundle(opCtx, b)
	if err != nil {
		i.recordAudit(opCtx, audit.Record{
			Fingerprint:  hash,
			Operation:    "import_bundle",
			Status:       audit.StatusError,
			ErrorMessage: err.Error(),
			Details:      map[string]any{"importId": importID, "projectId": b.Project.ProjectID},
		})
		return Result{}, err
	}

	result := Result{
		ImportID:        importID,
		Success:         true,
		RecordsImported: counts,
		PayloadHash:     hash,
		Timestamp:       time.Now().UTC(),
	}
	if i.evaluator != nil {
		result.AgentTriggers = toTriggerResults(i.evaluator.Evaluate(opCtx, snapshotFromBundle(b)))
	}

	i.recordAudit(opCtx, audit.Record{
		Fingerprint: hash,
		Operation:   "import_bundle",
		RecordCount: counts.Total,
		Status:      audit.StatusSuccess,
		Details: map[string]any{
			"importId":       importID,
			"projectId":      b.Project.ProjectID,
			"phases":         counts.Phases,
			"steps":          counts.Steps,
			"governanceLogs": counts.GovernanceLogs,
		},
	})

	i.publishEntries(opCtx, entries)
	return result, nil
}

func (i *Importer) writeBundle(ctx context.Context, b bundle.Bundle) (RecordCounts, []store.GovernanceLogEntry, error) {
	tx, err := i.coordinator.BeginImport(ctx)
	if err != nil {
		return RecordCounts{}, nil, &PersistenceError{Op: "begin", Err: err}
	}

	counts := RecordCounts{}
	entries := make([]store.GovernanceLogEntry, 0)

	fail := func(op string, err error) (RecordCounts, []store.GovernanceLogEntry, error) {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("importer: rollback after %s: %v", op, rbErr)
		}
		return RecordCounts{}, nil, &PersistenceError{Op: op, Err: err}
	}

	project := store.Project{
		ID:       b.Project.ProjectID,
		Name:     b.Project.Name,
		Status:   bundle.MapProjectStatus(b.Project.Status),
		Metadata: b.Project.Metadata,
	}
	if err := tx.UpsertProject(ctx, project); err != nil {
		return fail("upsert project", err)
	}

	for _, phaseInput := range b.Project.Phases {
		phase := store.Phase{
			ID:        phaseInput.PhaseID,
			ProjectID: b.Project.ProjectID,
			Name:      phaseInput.Name,
			Status:    bundle.MapProjectStatus(phaseInput.Status),
			StartDate: parseTime(phaseInput.StartDate),
			EndDate:   parseTime(phaseInput.EndDate),
		}
		if err := tx.UpsertPhase(ctx, phase); err != nil {
			return fail("upsert phase", err)
		}
		counts.Phases++

		for _, stepInput := range phaseInput.PhaseSteps {
			step := store.Step{
				ID:          stepInput.StepID,
				PhaseID:     phaseInput.PhaseID,
				Name:        stepInput.Name,
				Status:      bundle.MapStepStatus(stepInput.Status),
				SDLCStage:   stepInput.SDLCStage,
				BranchName:  stepInput.BranchName,
				CommitID:    stepInput.CommitID,
				CIStatus:    stepInput.CIStatus,
				QAStatus:    bundle.MapQAStatus(stepInput.QAStatus),
				PullRequest: stepInput.PullRequest,
			}
			if err := tx.UpsertStep(ctx, step); err != nil {
				return fail("upsert step", err)
			}
			counts.Steps++

			for _, logInput := range stepInput.GovernanceLogs {
				entry := store.GovernanceLogEntry{
					ID:        logInput.LogID,
					StepID:    stepInput.StepID,
					EntryType: bundle.MapEntryType(logInput.EntryType),
					Summary:   logInput.Summary,
					Actor:     logInput.Actor,
				}
				if len(logInput.Details) > 0 {
					_ = json.Unmarshal(logInput.Details, &entry.Details)
				}
				if logInput.MemoryAnchor != "" {
					anchorID := logInput.MemoryAnchor
					entry.MemoryAnchorID = &anchorID
				}
				if ts := parseTime(logInput.Timestamp); ts != nil {
					entry.CreatedAt = *ts
				}
				if err := tx.UpsertGovernanceLog(ctx, entry); err != nil {
					return fail("upsert governance log", err)
				}
				counts.GovernanceLogs++
				entries = append(entries, entry)
			}
		}
	}

	// Total mirrors the original importer: it counts hierarchy records,
	// governance entries are reported on their own.
	counts.Total = counts.Phases + counts.Steps

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return counts, entries, nil
}

// ImportAnchors imports memory anchors against already-persisted steps. The
// completed+QA-passed precondition is checked per anchor inside the
// transaction; one violation fails the whole payload.
func (i *Importer) ImportAnchors(ctx context.Context, raw []byte) (AnchorResult, error) {
	importID := util.NewID("imp")

	payload, err := bundle.ValidateAnchors(raw)
	if err != nil {
		i.recordAudit(ctx, audit.Record{
			Fingerprint:  bundle.RawFingerprint(raw),
			Operation:    "import_anchors",
			Status:       audit.StatusError,
			ErrorMessage: err.Error(),
			Details:      map[string]any{"importId": importID},
		})
		return AnchorResult{}, err
	}

	hash, err := bundle.Fingerprint(payload)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("fingerprint anchors: %w", err)
	}

	if !i.acquire(hash) {
		dup := &DuplicateImportError{Fingerprint: hash}
		i.recordAudit(ctx, audit.Record{
			Fingerprint:  hash,
			Operation:    "import_anchors",
			Status:       audit.StatusError,
			ErrorMessage: dup.Error(),
			Details:      map[string]any{"importId": importID},
		})
		return AnchorResult{}, dup
	}
	defer i.release(hash)

	opCtx := context.WithoutCancel(ctx)

	if err := i.writeAnchors(opCtx, payload); err != nil {
		i.recordAudit(opCtx, audit.Record{
			Fingerprint:  hash,
			Operation:    "import_anchors",
			Status:       audit.StatusError,
			ErrorMessage: err.Error(),
			Details:      map[string]any{"importId": importID},
		})
		return AnchorResult{}, err
	}

	i.recordAudit(opCtx, audit.Record{
		Fingerprint: hash,
		Operation:   "import_anchors",
		RecordCount: len(payload.MemoryAnchors),
		Status:      audit.StatusSuccess,
		Details:     map[string]any{"importId": importID},
	})

	return AnchorResult{
		ImportID:        importID,
		Success:         true,
		AnchorsImported: len(payload.MemoryAnchors),
		PayloadHash:     hash,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (i *Importer) writeAnchors(ctx context.Context, payload bundle.AnchorPayload) error {
	tx, err := i.coordinator.BeginImport(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}

	rollback := func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("importer: anchor rollback: %v", rbErr)
		}
	}

	for _, anchorInput := range payload.MemoryAnchors {
		step, err := tx.GetStep(ctx, anchorInput.LinkedPhaseStepID)
		if errors.Is(err, sql.ErrNoRows) {
			rollback()
			return &PreconditionError{
				EntityID: anchorInput.AnchorID,
				StepID:   anchorInput.LinkedPhaseStepID,
				Message:  "linked step does not exist",
			}
		}
		if err != nil {
			rollback()
			return &PersistenceError{Op: "read step", Err: err}
		}
		if step.Status != bundle.StepCompleted || !bundle.QAPassed(step.QAStatus) {
			rollback()
			return &PreconditionError{
				EntityID: anchorInput.AnchorID,
				StepID:   step.ID,
				Message:  fmt.Sprintf("step must be completed with QA passed (status=%s, qa=%s)", step.Status, step.QAStatus),
			}
		}

		status := anchorInput.Status
		if status == "" {
			status = "active"
		}
		anchor := store.MemoryAnchor{
			ID:         anchorInput.AnchorID,
			StepID:     anchorInput.LinkedPhaseStepID,
			Status:     status,
			AnchorType: anchorInput.AnchorType,
			Content:    anchorInput.Content,
			Tags:       anchorInput.Tags,
		}
		if err := tx.InsertMemoryAnchor(ctx, anchor); err != nil {
			rollback()
			return &PersistenceError{Op: "insert memory anchor", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		rollback()
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (i *Importer) acquire(hash string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, busy := i.inFlight[hash]; busy {
		return false
	}
	i.inFlight[hash] = struct{}{}
	return true
}

func (i *Importer) release(hash string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.inFlight, hash)
}

func (i *Importer) recordAudit(ctx context.Context, rec audit.Record) {
	if i.auditLog == nil {
		return
	}
	if err := i.auditLog.Append(ctx, rec); err != nil {
		log.Printf("importer: audit append (%s %s): %v", rec.Operation, rec.Fingerprint, err)
	}
}

func (i *Importer) publishEntries(ctx context.Context, entries []store.GovernanceLogEntry) {
	if i.publisher == nil {
		return
	}
	for _, entry := range entries {
		if err := i.publisher.PublishCreated(ctx, entry); err != nil {
			log.Printf("importer: publish governance log %s: %v", entry.ID, err)
		}
	}
}

func snapshotFromBundle(b bundle.Bundle) triggers.Snapshot {
	snap := triggers.Snapshot{ProjectID: b.Project.ProjectID}
	for _, phase := range b.Project.Phases {
		for _, step := range phase.PhaseSteps {
			hasAnchor := false
			for _, entry := range step.GovernanceLogs {
				if entry.MemoryAnchor != "" {
					hasAnchor = true
				}
				snap.Entries = append(snap.Entries, triggers.EntryState{
					ID:        entry.LogID,
					EntryType: bundle.MapEntryType(entry.EntryType),
				})
			}
			snap.Steps = append(snap.Steps, triggers.StepState{
				ID:        step.StepID,
				Status:    bundle.MapStepStatus(step.Status),
				QAStatus:  bundle.MapQAStatus(step.QAStatus),
				HasAnchor: hasAnchor,
			})
		}
	}
	return snap
}

func toTriggerResults(outcomes []triggers.Outcome) []TriggerResult {
	results := make([]TriggerResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		result := TriggerResult{
			Agent:     outcome.Agent,
			Triggered: outcome.Triggered,
			Reason:    outcome.Reason,
		}
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
		}
		results = append(results, result)
	}
	return results
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}
