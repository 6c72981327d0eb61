package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSignatureRequired gates completion. No side effect runs without it.
	ErrSignatureRequired = errors.New("signature required to complete task")
	ErrAlreadyCompleted  = errors.New("task already completed")
	// ErrCompletedLocked rejects edits to a completed task. Reopen it first.
	ErrCompletedLocked = errors.New("completed task is read-only")
	ErrItemReferenced  = errors.New("stock item is referenced by tasks")
)

// ValidationError reports request fields that are absent or carry a value
// the engine cannot accept. Both lists surface verbatim to the caller.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot move task from %s to %s", e.From, e.To)
}
