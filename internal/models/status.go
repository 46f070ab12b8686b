package models

import "fmt"

type Status string

const (
	StatusPending     Status = "pending"
	StatusTranslating Status = "translating"
	StatusGenerating  Status = "generating"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// pipeline order; error is handled separately.
var stageOrder = map[Status]int{
	StatusPending:     0,
	StatusTranslating: 1,
	StatusGenerating:  2,
	StatusProcessing:  3,
	StatusCompleted:   4,
}

func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition allows a move to the next stage, to error from any
// non-terminal state, and nothing else.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	return stageOrder[to] == stageOrder[from]+1
}

// AllowedPredecessors lists the states a record may be in for a move to `to`.
func AllowedPredecessors(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusTranslating, StatusGenerating, StatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Reached reports whether a record in status s has already passed (or is at)
// stage target. Error never counts as reaching a stage.
func (s Status) Reached(target Status) bool {
	if s == StatusError || target == StatusError {
		return s == target
	}
	return stageOrder[s] >= stageOrder[target]
}

func TransitionError(id string, from, to Status) error {
	return fmt.Errorf("invalid status transition: %q -> %q (id=%s)", from, to, id)
}
