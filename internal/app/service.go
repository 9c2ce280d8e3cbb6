package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wombat/api/internal/audit"
	"wombat/api/internal/distribution"
	"wombat/api/internal/importer"
	"wombat/api/internal/search"
	"wombat/api/internal/store"
)

// dataStore is the read surface the service needs from the persistence layer.
type dataStore interface {
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	GetProjectTree(context.Context, string) (store.ProjectTree, error)
	GetStep(context.Context, string) (store.Step, error)
	GetGovernanceLog(context.Context, string) (store.GovernanceLogEntry, error)
	ListGovernanceLogsSince(context.Context, time.Time, string, int) ([]store.GovernanceLogEntry, error)
	ListMemoryAnchors(context.Context, string) ([]store.MemoryAnchor, error)
	AnchoredStepCount(context.Context) (int, error)
	Ping(context.Context) error
}

type bundleImporter interface {
	ImportBundle(ctx context.Context, raw []byte) (importer.Result, error)
	ImportAnchors(ctx context.Context, raw []byte) (importer.AnchorResult, error)
}

type auditReader interface {
	Recent(ctx context.Context, n int) ([]audit.Record, error)
}

// Service is the application facade behind the HTTP layer. dist and searcher
// may be nil; the corresponding endpoints then degrade gracefully.
type Service struct {
	store    dataStore
	importer bundleImporter
	auditLog auditReader
	dist     *distribution.Service
	searcher *search.Service
}

func NewService(dataStore dataStore, bundleImporter bundleImporter, auditLog auditReader, dist *distribution.Service, searcher *search.Service) *Service {
	return &Service{
		store:    dataStore,
		importer: bundleImporter,
		auditLog: auditLog,
		dist:     dist,
		searcher: searcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ImportBundle(ctx context.Context, raw []byte) (importer.Result, error) {
	return s.importer.ImportBundle(ctx, raw)
}

func (s *Service) ImportAnchors(ctx context.Context, raw []byte) (importer.AnchorResult, error) {
	return s.importer.ImportAnchors(ctx, raw)
}

// ImportHistory returns recent audit records, newest first.
func (s *Service) ImportHistory(ctx context.Context, limit int) ([]audit.Record, error) {
	if s.auditLog == nil {
		return []audit.Record{}, nil
	}
	return s.auditLog.Recent(ctx, limit)
}

func (s *Service) ListProjects(ctx context.Context) ([]ProjectView, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ProjectView, 0, len(projects))
	for _, project := range projects {
		views = append(views, projectView(project, nil))
	}
	return views, nil
}

// ProjectTree returns one project with its full phase/step hierarchy.
func (s *Service) ProjectTree(ctx context.Context, projectID string) (ProjectView, error) {
	tree, err := s.store.GetProjectTree(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}

	phases := make([]PhaseView, 0, len(tree.Phases))
	for _, phase := range tree.Phases {
		steps := make([]StepView, 0, len(phase.Steps))
		for _, step := range phase.Steps {
			steps = append(steps, stepView(step))
		}
		phases = append(phases, phaseView(phase.Phase, steps))
	}
	return projectView(tree.Project, phases), nil
}

func (s *Service) GovernanceLog(ctx context.Context, logID string) (GovernanceLogView, error) {
	entry, err := s.store.GetGovernanceLog(ctx, logID)
	if err != nil {
		return GovernanceLogView{}, err
	}
	return governanceLogView(entry), nil
}

// maxLogPageSize bounds one page of the governance log feed.
const maxLogPageSize = 500

// GovernanceLogsSince lists entries strictly after the given instant in
// ascending created-at order. A zero since returns the oldest entries.
func (s *Service) GovernanceLogsSince(ctx context.Context, since time.Time, limit int) ([]GovernanceLogView, error) {
	if limit > maxLogPageSize {
		return nil, domainError(http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("limit must be at most %d", maxLogPageSize), nil)
	}
	entries, err := s.store.ListGovernanceLogsSince(ctx, since, "", limit)
	if err != nil {
		return nil, err
	}
	views := make([]GovernanceLogView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, governanceLogView(entry))
	}
	return views, nil
}

func (s *Service) StepAnchors(ctx context.Context, stepID string) ([]AnchorView, error) {
	if _, err := s.store.GetStep(ctx, stepID); err != nil {
		return nil, err
	}
	anchors, err := s.store.ListMemoryAnchors(ctx, stepID)
	if err != nil {
		return nil, err
	}
	views := make([]AnchorView, 0, len(anchors))
	for _, anchor := range anchors {
		views = append(views, anchorView(anchor))
	}
	return views, nil
}

// SearchGovernance serves search from the search facade when configured,
// otherwise from the distribution cache.
func (s *Service) SearchGovernance(ctx context.Context, q search.Query) search.Response {
	if s.searcher != nil {
		return s.searcher.Search(q)
	}

	response := search.Response{Results: []search.Result{}, Query: q.Text, Source: "cache"}
	if s.dist == nil {
		return response
	}
	for _, entry := range s.dist.Cache().Search(q.Text) {
		if q.FilterEntryType != "" && entry.EntryType != q.FilterEntryType {
			continue
		}
		if q.FilterStepID != "" && entry.StepID != q.FilterStepID {
			continue
		}
		result := search.Result{
			ID:        entry.ID,
			StepID:    entry.StepID,
			EntryType: entry.EntryType,
			Summary:   entry.Summary,
			Snippet:   entry.Summary,
			Actor:     entry.Actor,
		}
		if entry.MemoryAnchorID != nil {
			result.MemoryAnchorID = *entry.MemoryAnchorID
		}
		response.Results = append(response.Results, result)
	}
	response.Total = len(response.Results)
	return response
}

// DistributionStatus reports the delivery tier and cache size.
func (s *Service) DistributionStatus(ctx context.Context) (DistributionStatusView, error) {
	view := DistributionStatusView{
		Status: distribution.Status{State: distribution.StateDisconnected},
	}
	if s.dist != nil {
		view.Status = s.dist.Status()
		view.CachedEntries = s.dist.Cache().Len()
	}
	anchored, err := s.store.AnchoredStepCount(ctx)
	if err != nil {
		return DistributionStatusView{}, err
	}
	view.AnchoredSteps = anchored
	return view, nil
}
