// Package triggers evaluates post-commit automation predicates over imported
// data and dispatches them to external automation agents. Evaluation runs
// only after a successful commit and never against rolled-back data.
package triggers

import (
	"context"
	"fmt"
	"log"
	"sync"

	"wombat/api/internal/bundle"
)

const (
	AgentFollowUp  = "step-followup"
	AgentAudit     = "governance-audit"
	AgentAnchoring = "memory-anchoring"
)

// AutomationEndpoint is an external automation collaborator. Implementations
// must honor the context deadline; a hung endpoint is a recoverable failure,
// not a stall.
type AutomationEndpoint interface {
	Invoke(ctx context.Context, action string, payload map[string]any) error
}

// Outcome reports one trigger evaluation. Err is set when the downstream
// dispatch failed; the trigger itself still counts as evaluated.
type Outcome struct {
	Agent     string
	Triggered bool
	Reason    string
	Err       error
}

// StepState is the committed view of one imported step.
type StepState struct {
	ID        string
	Status    string
	QAStatus  string
	HasAnchor bool
}

// EntryState is the committed view of one imported governance entry.
type EntryState struct {
	ID        string
	EntryType string
}

// Snapshot is the committed data the predicates run against. It is read-only,
// so the three predicates may evaluate concurrently.
type Snapshot struct {
	ProjectID string
	Steps     []StepState
	Entries   []EntryState
}

type Evaluator struct {
	endpoints map[string]AutomationEndpoint
}

// NewEvaluator wires one endpoint per agent. A nil endpoint means the trigger
// is still evaluated but not dispatched.
func NewEvaluator(followUp, auditAgent, anchoring AutomationEndpoint) *Evaluator {
	return &Evaluator{endpoints: map[string]AutomationEndpoint{
		AgentFollowUp:  followUp,
		AgentAudit:     auditAgent,
		AgentAnchoring: anchoring,
	}}
}

// Evaluate runs the three predicates concurrently and returns their outcomes
// in a fixed order. A failing dispatch is isolated to its own outcome.
func (e *Evaluator) Evaluate(ctx context.Context, snap Snapshot) []Outcome {
	evaluations := []struct {
		agent string
		eval  func(Snapshot) (bool, string)
	}{
		{AgentFollowUp, evalFollowUp},
		{AgentAudit, evalAudit},
		{AgentAnchoring, evalAnchoring},
	}

	outcomes := make([]Outcome, len(evaluations))
	var wg sync.WaitGroup
	for i, evaluation := range evaluations {
		wg.Add(1)
		go func(i int, agent string, eval func(Snapshot) (bool, string)) {
			defer wg.Done()
			outcomes[i] = e.run(ctx, agent, eval, snap)
		}(i, evaluation.agent, evaluation.eval)
	}
	wg.Wait()
	return outcomes
}

func (e *Evaluator) run(ctx context.Context, agent string, eval func(Snapshot) (bool, string), snap Snapshot) Outcome {
	triggered, reason := eval(snap)
	outcome := Outcome{Agent: agent, Triggered: triggered, Reason: reason}
	if !triggered {
		return outcome
	}

	endpoint := e.endpoints[agent]
	if endpoint == nil {
		log.Printf("triggers: %s triggered but no endpoint configured (%s)", agent, reason)
		return outcome
	}
	if err := endpoint.Invoke(ctx, agent, map[string]any{
		"projectId": snap.ProjectID,
		"reason":    reason,
	}); err != nil {
		log.Printf("triggers: dispatch %s: %v", agent, err)
		outcome.Err = err
	}
	return outcome
}

// Steps not yet completed, or completed without a memory anchor, need
// follow-up work scheduled.
func evalFollowUp(snap Snapshot) (bool, string) {
	incomplete := 0
	unanchored := 0
	for _, step := range snap.Steps {
		switch {
		case step.Status != bundle.StepCompleted:
			incomplete++
		case !step.HasAnchor:
			unanchored++
		}
	}
	if incomplete == 0 && unanchored == 0 {
		return false, "all steps completed and anchored"
	}
	return true, fmt.Sprintf("%d incomplete, %d completed without anchor", incomplete, unanchored)
}

var auditableEntryTypes = map[string]bool{
	"change":       true,
	"decision":     true,
	"architecture": true,
}

func evalAudit(snap Snapshot) (bool, string) {
	count := 0
	for _, entry := range snap.Entries {
		if auditableEntryTypes[entry.EntryType] {
			count++
		}
	}
	if count == 0 {
		return false, "no auditable entries"
	}
	return true, fmt.Sprintf("%d entries need audit", count)
}

func evalAnchoring(snap Snapshot) (bool, string) {
	count := 0
	for _, step := range snap.Steps {
		if step.Status == bundle.StepCompleted && bundle.QAPassed(step.QAStatus) {
			count++
		}
	}
	if count == 0 {
		return false, "no steps eligible for anchoring"
	}
	return true, fmt.Sprintf("%d steps eligible for anchoring", count)
}
