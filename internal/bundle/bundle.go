// Package bundle defines the inbound import payloads, their structural
// validation, canonical status mapping, and content fingerprinting. Nothing in
// this package touches the database.
package bundle

import "encoding/json"

// Bundle is the unit of import work: one project with its phase/step/log
// hierarchy plus submission metadata.
type Bundle struct {
	Project ProjectInput `json:"project"`
	Meta    Meta         `json:"meta"`
}

type Meta struct {
	SubmittedBy         string   `json:"submittedBy"`
	SubmissionTimestamp string   `json:"submissionTimestamp"`
	Tags                []string `json:"tags"`
}

type ProjectInput struct {
	ProjectID string         `json:"projectId"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Phases    []PhaseInput   `json:"phases"`
}

type PhaseInput struct {
	PhaseID    string      `json:"phaseId"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	StartDate  string      `json:"startDate,omitempty"`
	EndDate    string      `json:"endDate,omitempty"`
	PhaseSteps []StepInput `json:"phaseSteps"`
}

type StepInput struct {
	StepID         string            `json:"stepId"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	SDLCStage      string            `json:"sdlcStage,omitempty"`
	BranchName     string            `json:"branchName,omitempty"`
	CommitID       string            `json:"commitId,omitempty"`
	CIStatus       string            `json:"ciStatus,omitempty"`
	QAStatus       string            `json:"qaStatus,omitempty"`
	PullRequest    string            `json:"pullRequest,omitempty"`
	GovernanceLogs []GovernanceInput `json:"governanceLogs"`
}

type GovernanceInput struct {
	LogID        string          `json:"logId"`
	EntryType    string          `json:"entryType"`
	Summary      string          `json:"summary"`
	Actor        string          `json:"actor,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	MemoryAnchor string          `json:"memoryAnchor,omitempty"`
}

// AnchorPayload is the separate memory-anchor import. Anchors reference steps
// that must already be completed and QA-passed; that check belongs to the
// importer because it depends on persisted state.
type AnchorPayload struct {
	MemoryAnchors []AnchorInput `json:"memoryAnchors"`
}

type AnchorInput struct {
	AnchorID          string   `json:"anchorId"`
	LinkedPhaseStepID string   `json:"linkedPhaseStepId"`
	Status            string   `json:"status"`
	AnchorType        string   `json:"anchorType,omitempty"`
	Content           string   `json:"content,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}
