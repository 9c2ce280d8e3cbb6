package bundle

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValidationError names the offending field, its path in the payload, and the
// offending value. Validation is purely structural; cross-entity existence is
// the importer's concern.
type ValidationError struct {
	Path    string
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validation failed at %s: %s", e.Path, e.Message)
}

func invalid(path, field string, value any, message string) *ValidationError {
	return &ValidationError{Path: path, Field: field, Value: value, Message: message}
}

// Validate decodes and structurally validates an import bundle. It returns
// either a typed bundle or a *ValidationError; no side effects either way.
func Validate(raw []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, invalid("$", "", nil, "payload is not valid JSON: "+err.Error())
	}
	if err := validateBundle(b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func validateBundle(b Bundle) error {
	if b.Project.ProjectID == "" {
		return invalid("project.projectId", "projectId", b.Project.ProjectID, "projectId is required")
	}
	if b.Project.Name == "" {
		return invalid("project.name", "name", b.Project.Name, "name is required")
	}
	if len(b.Project.Phases) == 0 {
		return invalid("project.phases", "phases", nil, "at least one phase is required")
	}
	if b.Meta.SubmissionTimestamp != "" {
		if _, err := time.Parse(time.RFC3339, b.Meta.SubmissionTimestamp); err != nil {
			return invalid("meta.submissionTimestamp", "submissionTimestamp", b.Meta.SubmissionTimestamp, "timestamp must be RFC 3339")
		}
	}
	for i, phase := range b.Project.Phases {
		if err := validatePhase(fmt.Sprintf("project.phases[%d]", i), phase); err != nil {
			return err
		}
	}
	return nil
}

func validatePhase(path string, phase PhaseInput) error {
	if phase.PhaseID == "" {
		return invalid(path+".phaseId", "phaseId", phase.PhaseID, "phaseId is required")
	}
	if phase.Name == "" {
		return invalid(path+".name", "name", phase.Name, "name is required")
	}
	for _, field := range []struct{ name, value string }{
		{"startDate", phase.StartDate},
		{"endDate", phase.EndDate},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, field.value); err != nil {
			return invalid(path+"."+field.name, field.name, field.value, "timestamp must be RFC 3339")
		}
	}
	for i, step := range phase.PhaseSteps {
		if err := validateStep(fmt.Sprintf("%s.phaseSteps[%d]", path, i), step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(path string, step StepInput) error {
	if step.StepID == "" {
		return invalid(path+".stepId", "stepId", step.StepID, "stepId is required")
	}
	if step.Name == "" {
		return invalid(path+".name", "name", step.Name, "name is required")
	}
	for i, entry := range step.GovernanceLogs {
		if err := validateGovernanceLog(fmt.Sprintf("%s.governanceLogs[%d]", path, i), entry); err != nil {
			return err
		}
	}
	return nil
}

func validateGovernanceLog(path string, entry GovernanceInput) error {
	if entry.LogID == "" {
		return invalid(path+".logId", "logId", entry.LogID, "logId is required")
	}
	if entry.EntryType == "" {
		return invalid(path+".entryType", "entryType", entry.EntryType, "entryType is required")
	}
	if entry.Summary == "" {
		return invalid(path+".summary", "summary", entry.Summary, "summary is required")
	}
	if entry.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
			return invalid(path+".timestamp", "timestamp", entry.Timestamp, "timestamp must be RFC 3339")
		}
	}
	if len(entry.Details) > 0 {
		var details map[string]any
		if err := json.Unmarshal(entry.Details, &details); err != nil {
			return invalid(path+".details", "details", string(entry.Details), "details must be a JSON object")
		}
	}
	return nil
}

// ValidateAnchors decodes and structurally validates a memory-anchor payload.
func ValidateAnchors(raw []byte) (AnchorPayload, error) {
	var p AnchorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AnchorPayload{}, invalid("$", "", nil, "payload is not valid JSON: "+err.Error())
	}
	if len(p.MemoryAnchors) == 0 {
		return AnchorPayload{}, invalid("memoryAnchors", "memoryAnchors", nil, "at least one anchor is required")
	}
	for i, anchor := range p.MemoryAnchors {
		path := fmt.Sprintf("memoryAnchors[%d]", i)
		if anchor.AnchorID == "" {
			return AnchorPayload{}, invalid(path+".anchorId", "anchorId", anchor.AnchorID, "anchorId is required")
		}
		if anchor.LinkedPhaseStepID == "" {
			return AnchorPayload{}, invalid(path+".linkedPhaseStepId", "linkedPhaseStepId", anchor.LinkedPhaseStepID, "linkedPhaseStepId is required")
		}
	}
	return p, nil
}
