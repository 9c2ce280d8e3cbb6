package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"wombat/api/internal/audit"
	"wombat/api/internal/store"
	"wombat/api/internal/triggers"
)

func bundleJSON() string {
	return `{
		"project": {
			"projectId": "P1",
			"name": "Orbis",
			"status": "Active",
			"phases": [{
				"phaseId": "PH1",
				"name": "Foundation",
				"status": "Active",
				"startDate": "2025-01-01T00:00:00Z",
				"phaseSteps": [{
					"stepId": "S1",
					"name": "Schema design",
					"status": "Complete",
					"qaStatus": "Pass",
					"governanceLogs": [{
						"logId": "L1",
						"entryType": "Review",
						"summary": "Schema reviewed",
						"actor": "jo",
						"timestamp": "2025-01-02T10:00:00Z",
						"memoryAnchor": "A1"
					}]
				}]
			}]
		},
		"meta": {"submittedBy": "ci", "submissionTimestamp": "2025-01-02T11:00:00Z"}
	}`
}

func anchorJSON(stepID string) string {
	return fmt.Sprintf(`{"memoryAnchors": [{"anchorId": "A1", "linkedPhaseStepId": "%s", "anchorType": "milestone", "content": "schema locked"}]}`, stepID)
}

// fakeTx journals every write so tests can assert ordering and rollback
// behavior. failOn aborts the named operation.
type fakeTx struct {
	mu        sync.Mutex
	journal   []string
	commits   int
	rollbacks int
	failOn    string

	steps    map[string]store.Step
	projects []store.Project
	phases   []store.Phase
	written  []store.Step
	entries  []store.GovernanceLogEntry
	anchors  []store.MemoryAnchor

	// release, when non-nil, blocks the first write until closed.
	release chan struct{}
	entered chan struct{}
}

func (f *fakeTx) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journal = append(f.journal, op)
	if f.failOn == op {
		return errors.New("backend unavailable")
	}
	return nil
}

func (f *fakeTx) UpsertProject(ctx context.Context, project store.Project) error {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.projects = append(f.projects, project)
	f.mu.Unlock()
	return f.record("project")
}

func (f *fakeTx) UpsertPhase(ctx context.Context, phase store.Phase) error {
	f.mu.Lock()
	f.phases = append(f.phases, phase)
	f.mu.Unlock()
	return f.record("phase")
}

func (f *fakeTx) UpsertStep(ctx context.Context, step store.Step) error {
	f.mu.Lock()
	f.written = append(f.written, step)
	f.mu.Unlock()
	return f.record("step")
}

func (f *fakeTx) UpsertGovernanceLog(ctx context.Context, entry store.GovernanceLogEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
	return f.record("log")
}

func (f *fakeTx) GetStep(ctx context.Context, stepID string) (store.Step, error) {
	step, ok := f.steps[stepID]
	if !ok {
		return store.Step{}, sql.ErrNoRows
	}
	return step, nil
}

func (f *fakeTx) InsertMemoryAnchor(ctx context.Context, anchor store.MemoryAnchor) error {
	f.mu.Lock()
	f.anchors = append(f.anchors, anchor)
	f.mu.Unlock()
	return f.record("anchor")
}

func (f *fakeTx) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	f.journal = append(f.journal, "commit")
	return nil
}

func (f *fakeTx) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	f.journal = append(f.journal, "rollback")
	return nil
}

type fakeCoordinator struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeCoordinator) BeginImport(ctx context.Context) (Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (f *fakeAudit) Append(ctx context.Context, rec audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) all() []audit.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Record(nil), f.records...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *fakePublisher) PublishCreated(ctx context.Context, entry store.GovernanceLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, entry.ID)
	return f.err
}

func newImporter(tx *fakeTx) (*Importer, *fakeAudit, *fakePublisher) {
	auditLog := &fakeAudit{}
	publisher := &fakePublisher{}
	imp := New(&fakeCoordinator{tx: tx}, triggers.NewEvaluator(nil, nil, nil), auditLog, publisher)
	return imp, auditLog, publisher
}

func TestImportBundleSuccess(t *testing.T) {
	tx := &fakeTx{}
	imp, auditLog, publisher := newImporter(tx)

	result, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
	if err != nil {
		t.Fatalf("ImportBundle failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}

	want := RecordCounts{Phases: 1, Steps: 1, GovernanceLogs: 1, Total: 2}
	if result.RecordsImported != want {
		t.Errorf("counts = %+v, want %+v", result.RecordsImported, want)
	}
	if result.PayloadHash == "" {
		t.Error("expected payload hash")
	}

	wantJournal := []string{"project", "phase", "step", "log", "commit"}
	if len(tx.journal) != len(wantJournal) {
		t.Fatalf("journal = %v, want %v", tx.journal, wantJournal)
	}
	for i, op := range wantJournal {
		if tx.journal[i] != op {
			t.Errorf("journal[%d] = %s, want %s", i, tx.journal[i], op)
		}
	}

	if tx.projects[0].Status != "in-progress" {
		t.Errorf("project status = %s, want in-progress", tx.projects[0].Status)
	}
	if tx.written[0].Status != "completed" || tx.written[0].QAStatus != "passed" {
		t.Errorf("step mapped to %s/%s, want completed/passed", tx.written[0].Status, tx.written[0].QAStatus)
	}
	if tx.entries[0].EntryType != "review" {
		t.Errorf("entry type = %s, want review", tx.entries[0].EntryType)
	}
	if tx.entries[0].MemoryAnchorID == nil || *tx.entries[0].MemoryAnchorID != "A1" {
		t.Error("expected memory anchor reference on entry")
	}

	records := auditLog.all()
	if len(records) != 1 || records[0].Status != audit.StatusSuccess {
		t.Fatalf("expected one success audit record, got %+v", records)
	}
	if records[0].Fingerprint != result.PayloadHash {
		t.Error("audit record should carry the payload fingerprint")
	}

	if len(publisher.published) != 1 || publisher.published[0] != "L1" {
		t.Errorf("published = %v, want [L1]", publisher.published)
	}
}

func TestImportBundleEvaluatesTriggers(t *testing.T) {
	tx := &fakeTx{}
	imp, _, _ := newImporter(tx)

	result, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
	if err != nil {
		t.Fatalf("ImportBundle failed: %v", err)
	}

	byAgent := map[string]TriggerResult{}
	for _, tr := range result.AgentTriggers {
		byAgent[tr.Agent] = tr
	}
	if len(byAgent) != 3 {
		t.Fatalf("expected three trigger outcomes, got %v", result.AgentTriggers)
	}
	// S1 is completed, QA-passed and anchored: anchoring fires, follow-up does not.
	if !byAgent[triggers.AgentAnchoring].Triggered {
		t.Error("expected anchoring trigger")
	}
	if byAgent[triggers.AgentFollowUp].Triggered {
		t.Error("follow-up should not trigger for an anchored completed step")
	}
	if byAgent[triggers.AgentAudit].Triggered {
		t.Error("audit should not trigger for a review entry")
	}
}

func TestImportBundleRollsBackOnPersistenceFailure(t *testing.T) {
	tx := &fakeTx{failOn: "step"}
	imp, auditLog, publisher := newImporter(tx)

	_, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}

	if tx.commits != 0 {
		t.Error("failed import must not commit")
	}
	if tx.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", tx.rollbacks)
	}
	if len(publisher.published) != 0 {
		t.Error("failed import must not publish events")
	}

	records := auditLog.all()
	if len(records) != 1 || records[0].Status != audit.StatusError {
		t.Fatalf("expected one error audit record, got %+v", records)
	}
}

func TestImportBundleRejectsInvalidPayload(t *testing.T) {
	tx := &fakeTx{}
	imp, auditLog, _ := newImporter(tx)

	_, err := imp.ImportBundle(context.Background(), []byte(`{"project": {"projectId": ""}}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(tx.journal) != 0 {
		t.Errorf("invalid payload must not reach the store, journal = %v", tx.journal)
	}

	records := auditLog.all()
	if len(records) != 1 || records[0].Status != audit.StatusError {
		t.Fatalf("rejected attempt still needs an audit record, got %+v", records)
	}
	if records[0].Fingerprint == "" {
		t.Error("rejected attempt should carry a raw fingerprint")
	}
}

func TestImportBundleDuplicateInFlight(t *testing.T) {
	tx := &fakeTx{
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	imp, auditLog, _ := newImporter(tx)
	entered := tx.entered

	done := make(chan error, 1)
	go func() {
		_, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
		done <- err
	}()

	<-entered
	_, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
	var dup *DuplicateImportError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateImportError, got %v", err)
	}

	// The rejected attempt still gets its own audit record.
	records := auditLog.all()
	if len(records) != 1 || records[0].Status != audit.StatusError {
		t.Fatalf("expected one error audit record for the rejection, got %+v", records)
	}
	if records[0].Fingerprint != dup.Fingerprint {
		t.Error("rejection record should carry the contested fingerprint")
	}

	close(tx.release)
	if err := <-done; err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	records = auditLog.all()
	if len(records) != 2 || records[1].Status != audit.StatusSuccess {
		t.Fatalf("expected rejection + success records, got %+v", records)
	}
}

func TestImportBundleSequentialResubmit(t *testing.T) {
	tx := &fakeTx{}
	imp, auditLog, _ := newImporter(tx)

	for i := 0; i < 2; i++ {
		if _, err := imp.ImportBundle(context.Background(), []byte(bundleJSON())); err != nil {
			t.Fatalf("import %d failed: %v", i, err)
		}
	}
	if tx.commits != 2 {
		t.Errorf("commits = %d, want 2", tx.commits)
	}
	if len(auditLog.all()) != 2 {
		t.Error("each attempt gets its own audit record")
	}
}

func TestImportAnchorsSuccess(t *testing.T) {
	tx := &fakeTx{steps: map[string]store.Step{
		"S1": {ID: "S1", Status: "completed", QAStatus: "passed"},
	}}
	imp, auditLog, _ := newImporter(tx)

	result, err := imp.ImportAnchors(context.Background(), []byte(anchorJSON("S1")))
	if err != nil {
		t.Fatalf("ImportAnchors failed: %v", err)
	}
	if !result.Success || result.AnchorsImported != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(tx.anchors) != 1 {
		t.Fatalf("anchors written = %d, want 1", len(tx.anchors))
	}
	if tx.anchors[0].Status != "active" {
		t.Errorf("anchor status defaults to active, got %s", tx.anchors[0].Status)
	}
	if tx.commits != 1 {
		t.Error("anchor import must commit")
	}

	records := auditLog.all()
	if len(records) != 1 || records[0].Operation != "import_anchors" || records[0].RecordCount != 1 {
		t.Errorf("audit records = %+v", records)
	}
}

func TestImportAnchorsRejectsIncompleteStep(t *testing.T) {
	tx := &fakeTx{steps: map[string]store.Step{
		"S1": {ID: "S1", Status: "in-progress", QAStatus: ""},
	}}
	imp, auditLog, _ := newImporter(tx)

	_, err := imp.ImportAnchors(context.Background(), []byte(anchorJSON("S1")))
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if perr.StepID != "S1" {
		t.Errorf("error step = %s, want S1", perr.StepID)
	}
	if tx.commits != 0 || tx.rollbacks != 1 {
		t.Errorf("commits=%d rollbacks=%d, want 0/1", tx.commits, tx.rollbacks)
	}

	records := auditLog.all()
	if len(records) != 1 || records[0].Status != audit.StatusError {
		t.Fatalf("expected error audit record, got %+v", records)
	}
}

func TestImportAnchorsRejectsQAFailedStep(t *testing.T) {
	tx := &fakeTx{steps: map[string]store.Step{
		"S1": {ID: "S1", Status: "completed", QAStatus: "failed"},
	}}
	imp, _, _ := newImporter(tx)

	_, err := imp.ImportAnchors(context.Background(), []byte(anchorJSON("S1")))
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if !strings.Contains(perr.Message, "QA") {
		t.Errorf("message should mention QA, got %q", perr.Message)
	}
}

func TestImportAnchorsRejectsMissingStep(t *testing.T) {
	tx := &fakeTx{}
	imp, _, _ := newImporter(tx)

	_, err := imp.ImportAnchors(context.Background(), []byte(anchorJSON("S404")))
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if !strings.Contains(perr.Message, "not exist") {
		t.Errorf("message = %q", perr.Message)
	}
	if len(tx.anchors) != 0 {
		t.Error("no anchor may be written for a missing step")
	}
}

func TestImportBundleBeginFailure(t *testing.T) {
	imp := New(&fakeCoordinator{beginErr: errors.New("pool exhausted")}, nil, nil, nil)
	_, err := imp.ImportBundle(context.Background(), []byte(bundleJSON()))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}
