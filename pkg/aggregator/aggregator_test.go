package aggregator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/registry"
)

type fixture struct {
	db        db.Service
	registry  *registry.Registry
	agg       *Aggregator
	finalized []*models.AggregatedResult
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = database.Close() })

	f := &fixture{
		db:       database,
		registry: registry.New(database),
	}

	f.agg = New(database, f.registry, func(r *models.AggregatedResult) {
		f.finalized = append(f.finalized, r)
	})

	return f
}

func (f *fixture) onlineAgent(t *testing.T, agentID string) {
	t.Helper()

	hb := &models.HeartbeatRequest{
		AgentID: agentID, Hostname: agentID, Address: "10.0.0.5", Port: 8530, OwnedRange: "10.0.0.0/24",
	}

	_, err := f.registry.RecordHeartbeat(hb)
	require.NoError(t, err)
	require.NoError(t, f.registry.Approve(agentID))
	_, err = f.registry.RecordHeartbeat(hb)
	require.NoError(t, err)
	require.NoError(t, f.registry.MarkScanning(agentID))
}

// execution seeds one pending result with one task per agent.
func (f *fixture) execution(t *testing.T, resultID string, agentIDs ...string) {
	t.Helper()

	now := time.Now()

	cfg := &models.ScanConfig{
		ID: "cfg-" + resultID, Name: "t", Target: "10.0.0.0/24", Ports: "22",
		Interval: time.Hour, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.CreateScanConfig(cfg))

	result := &models.AggregatedResult{
		ResultID: resultID, ConfigID: cfg.ID, GroupID: "grp-" + resultID,
		Status: models.ResultStatusPending, Hosts: map[string]models.HostResult{},
		CreatedAt: now, UpdatedAt: now,
	}

	tasks := make([]models.Task, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		f.onlineAgent(t, agentID)

		tasks = append(tasks, models.Task{
			TaskID: "task-" + resultID + "-" + agentID, GroupID: result.GroupID,
			ConfigID: cfg.ID, ResultID: resultID, AgentID: agentID,
			Targets: []string{"10.0.0.1"}, Ports: "22",
			Status: models.TaskStatusAssigned, CreatedAt: now,
		})
	}

	require.NoError(t, f.db.CreateExecution(result, tasks))
}

func submission(resultID, agentID string, status models.SubmissionStatus, hosts map[string]models.HostResult) *models.ResultSubmission {
	return &models.ResultSubmission{
		ResultID:      resultID,
		TaskID:        "task-" + resultID + "-" + agentID,
		AgentID:       agentID,
		Status:        status,
		ParsedResults: hosts,
	}
}

func TestAggregator_SingleAgentCompletes(t *testing.T) {
	f := newFixture(t)
	f.execution(t, "res-1", "agent-a")

	result, err := f.agg.Submit(submission("res-1", "agent-a", models.SubmissionCompleted, map[string]models.HostResult{
		"10.0.0.1": {State: models.HostStateUp, OpenPorts: []int{22}},
	}))
	require.NoError(t, err)

	assert.Equal(t, models.ResultStatusCompleted, result.Status)
	assert.Equal(t, []string{"agent-a"}, result.Contributing)
	assert.Equal(t, 1, result.Summary.TotalOpenPorts)
	assert.NotNil(t, result.CompletedAt)

	// The agent is released back to online.
	agent, err := f.registry.GetAgent("agent-a")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateOnline, agent.State)

	require.Len(t, f.finalized, 1)
	assert.Equal(t, "res-1", f.finalized[0].ResultID)
}

func TestAggregator_MergeRules(t *testing.T) {
	f := newFixture(t)
	f.execution(t, "res-1", "agent-a", "agent-b")

	_, err := f.agg.Submit(submission("res-1", "agent-a", models.SubmissionInProgress, map[string]models.HostResult{
		"10.0.0.1": {
			Hostname:  "old-name",
			State:     models.HostStateUp,
			OpenPorts: []int{80, 22},
			PortDetails: map[int]models.PortDetail{
				22: {Protocol: "tcp", Name: "ssh"},
				80: {Protocol: "tcp", Name: "http", Product: "nginx"},
			},
		},
	}))
	require.NoError(t, err)

	result, err := f.agg.Submit(submission("res-1", "agent-a", models.SubmissionCompleted, map[string]models.HostResult{
		"10.0.0.1": {
			Hostname:  "new-name",
			State:     models.HostStateUp,
			OpenPorts: []int{443, 22},
			PortDetails: map[int]models.PortDetail{
				22:  {Protocol: "tcp", Name: "ssh", Product: "OpenSSH"},
				443: {Protocol: "tcp", Name: "https"},
			},
		},
	}))
	require.NoError(t, err)

	host := result.Hosts["10.0.0.1"]
	assert.Equal(t, "new-name", host.Hostname)
	assert.Equal(t, []int{22, 80, 443}, host.OpenPorts, "port sets union, sorted")
	assert.Equal(t, "OpenSSH", host.PortDetails[22].Product, "newer detail wins per key")
	assert.Equal(t, "nginx", host.PortDetails[80].Product, "absent keys are kept")

	// Counters come from the merged map, never from increments.
	assert.Equal(t, 1, result.Summary.TotalTargets)
	assert.Equal(t, 3, result.Summary.TotalOpenPorts)

	// Sibling still running: not terminal yet, despite agent-a finishing.
	assert.Equal(t, models.ResultStatusPending, result.Status)
	assert.Empty(t, f.finalized)
}

// Merging is insensitive to submission order and to resubmission of the
// same payload: port sets union and detail maps merge by key, so the
// merged host map is the same whichever agent reports first, and feeding
// a batch in twice changes nothing.
func TestAggregator_MergeOrderAndResubmission(t *testing.T) {
	subA := func() *models.ResultSubmission {
		return submission("res-1", "agent-a", models.SubmissionInProgress, map[string]models.HostResult{
			"10.0.0.1": {
				State:     models.HostStateUp,
				OpenPorts: []int{22, 80},
				PortDetails: map[int]models.PortDetail{
					22: {Protocol: "tcp", Name: "ssh"},
				},
			},
		})
	}
	subB := func() *models.ResultSubmission {
		return submission("res-1", "agent-b", models.SubmissionInProgress, map[string]models.HostResult{
			"10.0.0.1": {
				State:     models.HostStateUp,
				OpenPorts: []int{80, 443},
				PortDetails: map[int]models.PortDetail{
					443: {Protocol: "tcp", Name: "https"},
				},
			},
			"10.0.0.2": {State: models.HostStateDown},
		})
	}

	merge := func(t *testing.T, subs ...*models.ResultSubmission) *models.AggregatedResult {
		t.Helper()

		f := newFixture(t)
		f.execution(t, "res-1", "agent-a", "agent-b")

		var result *models.AggregatedResult

		for _, sub := range subs {
			var err error

			result, err = f.agg.Submit(sub)
			require.NoError(t, err)
		}

		return result
	}

	ab := merge(t, subA(), subB())
	ba := merge(t, subB(), subA())

	assert.Equal(t, ab.Hosts, ba.Hosts, "merge must commute")
	assert.Equal(t, ab.Summary, ba.Summary)
	assert.Equal(t, []int{22, 80, 443}, ab.Hosts["10.0.0.1"].OpenPorts)

	twice := merge(t, subA(), subB(), subB())
	assert.Equal(t, ab.Hosts, twice.Hosts, "resubmitting identical data changes nothing")
	assert.Equal(t, ab.Summary, twice.Summary)
	assert.Equal(t, models.ResultStatusPending, twice.Status)
}

func TestAggregator_StatusDerivation(t *testing.T) {
	tests := []struct {
		name    string
		agentA  models.SubmissionStatus
		agentB  models.SubmissionStatus
		want    models.ResultStatus
	}{
		{"all completed", models.SubmissionCompleted, models.SubmissionCompleted, models.ResultStatusCompleted},
		{"all failed", models.SubmissionFailed, models.SubmissionFailed, models.ResultStatusFailed},
		{"mixed is partial", models.SubmissionCompleted, models.SubmissionFailed, models.ResultStatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.execution(t, "res-1", "agent-a", "agent-b")

			first, err := f.agg.Submit(submission("res-1", "agent-a", tt.agentA, map[string]models.HostResult{
				"10.0.0.1": {State: models.HostStateUp},
			}))
			require.NoError(t, err)
			assert.Equal(t, models.ResultStatusPending, first.Status)

			second, err := f.agg.Submit(submission("res-1", "agent-b", tt.agentB, map[string]models.HostResult{
				"10.0.0.2": {State: models.HostStateDown},
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, second.Status)

			require.Len(t, f.finalized, 1, "finalization fires exactly once")
		})
	}
}

// Reconcile finalizes a result whose tasks all reached a terminal status
// without a submission observing it, e.g. when the last outstanding task
// was failed by dispatch rather than by an agent.
func TestAggregator_ReconcileFinalizesOrphanedResult(t *testing.T) {
	f := newFixture(t)
	f.execution(t, "res-1", "agent-a", "agent-b")

	_, err := f.agg.Submit(submission("res-1", "agent-a", models.SubmissionCompleted, map[string]models.HostResult{
		"10.0.0.1": {State: models.HostStateUp, OpenPorts: []int{22}},
	}))
	require.NoError(t, err)

	// agent-b never got its work order; dispatch fails the task after
	// agent-a's submission already derived the status.
	require.NoError(t, f.db.UpdateTaskStatus("task-res-1-agent-b", models.TaskStatusFailed, time.Now()))

	result, err := f.agg.Reconcile("res-1")
	require.NoError(t, err)

	assert.Equal(t, models.ResultStatusPartial, result.Status)
	assert.NotNil(t, result.CompletedAt)
	require.Len(t, f.finalized, 1)

	// Terminal results are returned unchanged, with no second callback.
	again, err := f.agg.Reconcile("res-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusPartial, again.Status)
	assert.Len(t, f.finalized, 1)

	_, err = f.agg.Reconcile("res-missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestAggregator_RejectsAfterFinalization(t *testing.T) {
	f := newFixture(t)
	f.execution(t, "res-1", "agent-a")

	_, err := f.agg.Submit(submission("res-1", "agent-a", models.SubmissionCompleted, map[string]models.HostResult{
		"10.0.0.1": {State: models.HostStateUp},
	}))
	require.NoError(t, err)

	_, err = f.agg.Submit(submission("res-1", "agent-a", models.SubmissionCompleted, map[string]models.HostResult{
		"10.0.0.1": {State: models.HostStateUp},
	}))
	assert.ErrorIs(t, err, ErrResultFinalized)

	assert.Len(t, f.finalized, 1)
}

func TestAggregator_UnknownResultAndMismatch(t *testing.T) {
	f := newFixture(t)
	f.execution(t, "res-1", "agent-a")

	_, err := f.agg.Submit(submission("res-missing", "agent-a", models.SubmissionCompleted, nil))
	assert.ErrorIs(t, err, ErrResultNotFound)

	// Submission naming another agent's task is rejected.
	sub := submission("res-1", "agent-a", models.SubmissionCompleted, nil)
	sub.AgentID = "agent-z"
	_, err = f.agg.Submit(sub)
	assert.ErrorIs(t, err, ErrTaskMismatch)
}
