package autopilot

import (
	"errors"
	"fmt"
)

// ErrAccountNotFound means the summary page has no account with the
// requested display name.
var ErrAccountNotFound = errors.New("account not found")

// Stage identifies which phase of a retrieval run failed.
type Stage string

const (
	// StageAuthenticate covers everything up to a confirmed session.
	StageAuthenticate Stage = "authenticate"

	// StageStatement covers account lookup, export, and parsing.
	StageStatement Stage = "statement"
)

// FlowError wraps a run failure with the stage it occurred in and the
// run identifier, so callers can tell credential problems from
// statement problems.
type FlowError struct {
	Stage Stage
	RunID string
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("run %s failed during %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }
