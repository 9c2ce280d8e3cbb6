package app

import (
	"time"

	"wombat/api/internal/distribution"
	"wombat/api/internal/store"
)

type ProjectView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Phases    []PhaseView    `json:"phases,omitempty"`
}

type PhaseView struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Steps     []StepView `json:"steps,omitempty"`
}

type StepView struct {
	ID          string `json:"id"`
	PhaseID     string `json:"phaseId"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	SDLCStage   string `json:"sdlcStage,omitempty"`
	BranchName  string `json:"branchName,omitempty"`
	CommitID    string `json:"commitId,omitempty"`
	CIStatus    string `json:"ciStatus,omitempty"`
	QAStatus    string `json:"qaStatus,omitempty"`
	PullRequest string `json:"pullRequest,omitempty"`
}

type GovernanceLogView struct {
	ID             string         `json:"id"`
	StepID         string         `json:"stepId"`
	EntryType      string         `json:"entryType"`
	Summary        string         `json:"summary"`
	Actor          string         `json:"actor,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	MemoryAnchorID string         `json:"memoryAnchorId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type AnchorView struct {
	ID         string    `json:"id"`
	StepID     string    `json:"stepId"`
	Status     string    `json:"status"`
	AnchorType string    `json:"anchorType,omitempty"`
	Content    string    `json:"content,omitempty"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DistributionStatusView struct {
	Status        distribution.Status `json:"status"`
	CachedEntries int                 `json:"cachedEntries"`
	AnchoredSteps int                 `json:"anchoredSteps"`
}

func projectView(project store.Project, phases []PhaseView) ProjectView {
	return ProjectView{
		ID:        project.ID,
		Name:      project.Name,
		Status:    project.Status,
		Metadata:  project.Metadata,
		CreatedAt: project.CreatedAt,
		UpdatedAt: project.UpdatedAt,
		Phases:    phases,
	}
}

func phaseView(phase store.Phase, steps []StepView) PhaseView {
	return PhaseView{
		ID:        phase.ID,
		ProjectID: phase.ProjectID,
		Name:      phase.Name,
		Status:    phase.Status,
		StartDate: phase.StartDate,
		EndDate:   phase.EndDate,
		Steps:     steps,
	}
}

func stepView(step store.Step) StepView {
	return StepView{
		ID:          step.ID,
		PhaseID:     step.PhaseID,
		Name:        step.Name,
		Status:      step.Status,
		SDLCStage:   step.SDLCStage,
		BranchName:  step.BranchName,
		CommitID:    step.CommitID,
		CIStatus:    step.CIStatus,
		QAStatus:    step.QAStatus,
		PullRequest: step.PullRequest,
	}
}

func governanceLogView(entry store.GovernanceLogEntry) GovernanceLogView {
	view := GovernanceLogView{
		ID:        entry.ID,
		StepID:    entry.StepID,
		EntryType: entry.EntryType,
		Summary:   entry.Summary,
		Actor:     entry.Actor,
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt,
	}
	if entry.MemoryAnchorID != nil {
		view.MemoryAnchorID = *entry.MemoryAnchorID
	}
	return view
}

func anchorView(anchor store.MemoryAnchor) AnchorView {
	tags := anchor.Tags
	if tags == nil {
		tags = []string{}
	}
	return AnchorView{
		ID:         anchor.ID,
		StepID:     anchor.StepID,
		Status:     anchor.Status,
		AnchorType: anchor.AnchorType,
		Content:    anchor.Content,
		Tags:       tags,
		CreatedAt:  anchor.CreatedAt,
	}
}
