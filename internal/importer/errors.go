package importer

import "fmt"

// PreconditionError reports a state-dependent rule violation, e.g. a memory
// anchor targeting a step that is not completed and QA-passed. It always rolls
// the import back.
type PreconditionError struct {
	EntityID string
	StepID   string
	Message  string
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("precondition failed for %s (step %s): %s", e.EntityID, e.StepID, e.Message)
}

// PersistenceError wraps a backend failure mid-transaction. The import has
// been rolled back; resubmitting the same bundle is safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DuplicateImportError means the identical bundle is already mid-import.
type DuplicateImportError struct {
	Fingerprint string
}

func (e *DuplicateImportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bundle %s is already being imported", e.Fingerprint)
}
