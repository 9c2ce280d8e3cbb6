package store

import "time"

type Project struct {
	ID        string
	Name      string
	Status    string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Phase struct {
	ID        string
	ProjectID string
	Name      string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Step struct {
	ID          string
	PhaseID     string
	Name        string
	Status      string
	SDLCStage   string
	BranchName  string
	CommitID    string
	CIStatus    string
	QAStatus    string
	PullRequest string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GovernanceLogEntry is the canonical governance record. Rows are
// append-mostly; a rare update is recorded as its own entry by the caller.
type GovernanceLogEntry struct {
	ID             string
	StepID         string
	EntryType      string
	Summary        string
	Actor          string
	Details        map[string]any
	MemoryAnchorID *string
	CreatedAt      time.Time
}

// MemoryAnchor is immutable after creation except for status transitions.
type MemoryAnchor struct {
	ID         string
	StepID     string
	Status     string
	AnchorType string
	Content    string
	Tags       []string
	CreatedAt  time.Time
}

// ProjectTree is the full hierarchy returned by the project read path.
type ProjectTree struct {
	Project Project
	Phases  []PhaseTree
}

type PhaseTree struct {
	Phase Phase
	Steps []Step
}
