package aggregator

import "errors"

var (
	// ErrResultNotFound means the submission references an unknown
	// result, typically one whose execution was rolled back.
	ErrResultNotFound = errors.New("result not found")

	// ErrResultFinalized means the result already reached a terminal
	// status; late or duplicate submissions are rejected.
	ErrResultFinalized = errors.New("result already finalized")

	// ErrTaskMismatch means the submission's task does not belong to the
	// referenced result, or was issued to a different agent.
	ErrTaskMismatch = errors.New("task does not match result")
)
