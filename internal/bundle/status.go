package bundle

import "strings"

// Canonical project/phase statuses.
const (
	StatusPlanning   = "planning"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on-hold"
)

// Canonical step statuses.
const (
	StepNotStarted = "not-started"
	StepInProgress = "in-progress"
	StepBlocked    = "blocked"
	StepCompleted  = "completed"
	StepError      = "error"
)

// Producers still send Notion-era status labels; unknown values map to the
// safe default instead of failing the import.
var projectStatusMap = map[string]string{
	"planning":    StatusPlanning,
	"planned":     StatusPlanning,
	"active":      StatusInProgress,
	"in progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"complete":    StatusCompleted,
	"completed":   StatusCompleted,
	"done":        StatusCompleted,
	"on hold":     StatusOnHold,
	"on-hold":     StatusOnHold,
	"paused":      StatusOnHold,
}

var stepStatusMap = map[string]string{
	"not started": StepNotStarted,
	"not-started": StepNotStarted,
	"planned":     StepNotStarted,
	"todo":        StepNotStarted,
	"active":      StepInProgress,
	"in progress": StepInProgress,
	"in-progress": StepInProgress,
	"blocked":     StepBlocked,
	"complete":    StepCompleted,
	"completed":   StepCompleted,
	"done":        StepCompleted,
	"error":       StepError,
	"failed":      StepError,
}

// MapProjectStatus maps an inbound project or phase status onto the canonical
// enumeration. Every input maps to a defined member; unknown values become
// "planning".
func MapProjectStatus(status string) string {
	if mapped, ok := projectStatusMap[normalize(status)]; ok {
		return mapped
	}
	return StatusPlanning
}

// MapStepStatus is the step-level equivalent; unknown values become
// "not-started".
func MapStepStatus(status string) string {
	if mapped, ok := stepStatusMap[normalize(status)]; ok {
		return mapped
	}
	return StepNotStarted
}

var entryTypeMap = map[string]string{
	"review":     "review",
	"decision":   "decision",
	"change":     "change",
	"audit":      "audit",
	"ai-session": "ai-session",
	"ai session": "ai-session",
	"system":     "system",
}

// MapEntryType normalizes a governance entry type. Known aliases collapse to
// the canonical form; anything else is kept lowercased so producer-specific
// types (e.g. "architecture") survive intact.
func MapEntryType(entryType string) string {
	normalized := normalize(entryType)
	if mapped, ok := entryTypeMap[normalized]; ok {
		return mapped
	}
	if normalized == "" {
		return "system"
	}
	return normalized
}

var qaStatusMap = map[string]string{
	"pass":     "passed",
	"passed":   "passed",
	"complete": "complete",
	"done":     "complete",
	"fail":     "failed",
	"failed":   "failed",
}

// MapQAStatus normalizes QA labels; unknown values are kept lowercased.
func MapQAStatus(status string) string {
	normalized := normalize(status)
	if mapped, ok := qaStatusMap[normalized]; ok {
		return mapped
	}
	return normalized
}

// QAPassed reports whether a QA status satisfies the anchor precondition.
func QAPassed(status string) bool {
	mapped := MapQAStatus(status)
	return mapped == "passed" || mapped == "complete"
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
