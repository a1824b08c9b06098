package app

import "time"

// ProgressEvent is a discrete, UI-agnostic progress notification emitted by
// the task planner. Presentation layers subscribe to these instead of
// coupling to planner internals.
type ProgressEvent struct {
	Kind      string    `json:"kind"` // planning|executing|retrying|synthesizing|complete|failed
	Text      string    `json:"text"`
	StepIndex int       `json:"step_index,omitempty"` // 1-based
	StepTotal int       `json:"step_total,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventKindPlanning     = "planning"
	EventKindExecuting    = "executing"
	EventKindRetrying     = "retrying"
	EventKindSynthesizing = "synthesizing"
	EventKindComplete     = "complete"
	EventKindFailed       = "failed"
)
