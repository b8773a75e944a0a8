package dispatch

import "errors"

var (
	// ErrNoEligibleAgents means no approved, alive agent owns any of the
	// execution's targets. Nothing is persisted in this case.
	ErrNoEligibleAgents = errors.New("no eligible agents for targets")

	// ErrDispatchFailed means work orders were built but no agent
	// accepted one; the execution has been rolled back.
	ErrDispatchFailed = errors.New("no agent accepted a work order")

	ErrNoTargets = errors.New("scan config resolves to no targets")
)
