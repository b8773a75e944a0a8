package registry

import "errors"

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInvalidTransition = errors.New("illegal agent state transition")
	ErrEmptyAgentID      = errors.New("empty agent id")
)
