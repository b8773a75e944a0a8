package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatedResult_RecomputeSummary(t *testing.T) {
	r := AggregatedResult{
		Hosts: map[string]HostResult{
			"10.0.0.1": {State: HostStateUp, OpenPorts: []int{22, 80}},
			"10.0.0.2": {State: HostStateDown},
			"10.0.0.3": {State: HostStateError},
			"10.0.0.4": {State: HostStateUp, OpenPorts: []int{443}},
		},
	}

	r.RecomputeSummary()

	assert.Equal(t, 4, r.Summary.TotalTargets)
	assert.Equal(t, 3, r.Summary.CompletedTargets) // up and down both count
	assert.Equal(t, 1, r.Summary.FailedTargets)
	assert.Equal(t, 3, r.Summary.TotalOpenPorts)

	// Recomputing is idempotent, not cumulative.
	r.RecomputeSummary()
	assert.Equal(t, 3, r.Summary.TotalOpenPorts)
}

func TestResultStatus_Terminal(t *testing.T) {
	assert.False(t, ResultStatusPending.Terminal())
	assert.True(t, ResultStatusPartial.Terminal())
	assert.True(t, ResultStatusCompleted.Terminal())
	assert.True(t, ResultStatusFailed.Terminal())
}

func TestAggregatedResult_HasContributor(t *testing.T) {
	r := AggregatedResult{Contributing: []string{"agent-a", "agent-b"}}

	assert.True(t, r.HasContributor("agent-a"))
	assert.False(t, r.HasContributor("agent-c"))
}
