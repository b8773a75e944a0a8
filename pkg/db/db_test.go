package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

func newTestDB(t *testing.T) Service {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = database.Close() })

	return database
}

func testAgent(id string) *models.Agent {
	now := time.Now().UTC().Truncate(time.Second)

	return &models.Agent{
		AgentID:    id,
		Hostname:   "scanner-1",
		Address:    "10.0.0.5",
		Port:       8530,
		GrpcPort:   50051,
		OwnedRange: "10.0.0.0/24",
		State:      models.AgentStatePending,
		FirstSeen:  now,
		LastSeen:   now,
	}
}

func TestAgentRoundtrip(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetAgent("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	agent := testAgent("agent-aa11")
	require.NoError(t, database.UpsertAgent(agent))

	got, err := database.GetAgent("agent-aa11")
	require.NoError(t, err)
	assert.Equal(t, agent.OwnedRange, got.OwnedRange)
	assert.Equal(t, 50051, got.GrpcPort)
	assert.Equal(t, models.AgentStatePending, got.State)

	// Upserting again must not reset state or first_seen.
	require.NoError(t, database.UpdateAgentState("agent-aa11", models.AgentStateOnline))

	agent.Hostname = "scanner-1-renamed"
	require.NoError(t, database.UpsertAgent(agent))

	got, err = database.GetAgent("agent-aa11")
	require.NoError(t, err)
	assert.Equal(t, "scanner-1-renamed", got.Hostname)
	assert.Equal(t, models.AgentStateOnline, got.State)
}

func TestListStaleAgents(t *testing.T) {
	database := newTestDB(t)

	fresh := testAgent("agent-fresh")
	fresh.LastSeen = time.Now()
	require.NoError(t, database.UpsertAgent(fresh))
	require.NoError(t, database.UpdateAgentState("agent-fresh", models.AgentStateOnline))

	stale := testAgent("agent-stale")
	stale.LastSeen = time.Now().Add(-time.Hour)
	require.NoError(t, database.UpsertAgent(stale))
	require.NoError(t, database.UpdateAgentState("agent-stale", models.AgentStateScanning))

	// Pending agents never count as stale even when silent.
	silent := testAgent("agent-pending")
	silent.LastSeen = time.Now().Add(-time.Hour)
	require.NoError(t, database.UpsertAgent(silent))

	got, err := database.ListStaleAgents(time.Now().Add(-10 * time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "agent-stale", got[0].AgentID)
}

func testConfig() *models.ScanConfig {
	now := time.Now().UTC().Truncate(time.Second)

	return &models.ScanConfig{
		ID:        "cfg-1",
		Name:      "office subnet",
		Target:    "192.168.1.0/24",
		Ports:     "1-1024",
		Interval:  time.Hour,
		Active:    true,
		Recurring: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestScanConfigRoundtrip(t *testing.T) {
	database := newTestDB(t)

	cfg := testConfig()
	require.NoError(t, database.CreateScanConfig(cfg))

	got, err := database.GetScanConfig("cfg-1")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got.Interval)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRun)

	got.Active = false
	got.Ports = "22,80"
	require.NoError(t, database.UpdateScanConfig(got))

	updated, err := database.GetScanConfig("cfg-1")
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "22,80", updated.Ports)

	active, err := database.ListScanConfigs(true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := database.ListScanConfigs(false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	last := time.Now().UTC().Truncate(time.Second)
	next := last.Add(time.Hour)
	require.NoError(t, database.UpdateRunTimes("cfg-1", last, next))

	timed, err := database.GetScanConfig("cfg-1")
	require.NoError(t, err)
	require.NotNil(t, timed.LastRun)
	require.NotNil(t, timed.NextRun)

	require.NoError(t, database.DeleteScanConfig("cfg-1"))
	_, err = database.GetScanConfig("cfg-1")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	assert.ErrorIs(t, database.DeleteScanConfig("cfg-1"), ErrConfigNotFound)
}

func testExecution(t *testing.T, database Service, configID, resultID string) (*models.AggregatedResult, []models.Task) {
	t.Helper()

	return testExecutionAt(t, database, configID, resultID, time.Now().UTC().Truncate(time.Second))
}

func testExecutionAt(t *testing.T, database Service, configID, resultID string, now time.Time) (*models.AggregatedResult, []models.Task) {
	t.Helper()

	result := &models.AggregatedResult{
		ResultID:  resultID,
		ConfigID:  configID,
		GroupID:   "group-" + resultID,
		Status:    models.ResultStatusPending,
		Hosts:     map[string]models.HostResult{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	tasks := []models.Task{
		{
			TaskID:    "task-" + resultID + "-1",
			GroupID:   result.GroupID,
			ConfigID:  configID,
			ResultID:  resultID,
			AgentID:   "agent-aa11",
			Targets:   []string{"192.168.1.1", "192.168.1.2"},
			Ports:     "1-1024",
			Status:    models.TaskStatusPending,
			CreatedAt: now,
		},
		{
			TaskID:    "task-" + resultID + "-2",
			GroupID:   result.GroupID,
			ConfigID:  configID,
			ResultID:  resultID,
			AgentID:   "agent-bb22",
			Targets:   []string{"192.168.1.3"},
			Ports:     "1-1024",
			Status:    models.TaskStatusPending,
			CreatedAt: now,
		},
	}

	require.NoError(t, database.CreateExecution(result, tasks))

	return result, tasks
}

func TestExecutionLifecycle(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.CreateScanConfig(testConfig()))

	result, tasks := testExecution(t, database, "cfg-1", "res-1")

	got, err := database.GetResult("res-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusPending, got.Status)

	group, err := database.ListTasksByGroup(result.GroupID)
	require.NoError(t, err)
	assert.Len(t, group, 2)

	task, err := database.GetTask(tasks[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2"}, task.Targets)
	assert.Nil(t, task.AssignedAt)

	require.NoError(t, database.UpdateTaskStatus(task.TaskID, models.TaskStatusAssigned, time.Now()))

	assigned, err := database.GetTask(task.TaskID)
	require.NoError(t, err)
	assert.NotNil(t, assigned.AssignedAt)
	assert.Nil(t, assigned.CompletedAt)

	require.NoError(t, database.UpdateTaskStatus(task.TaskID, models.TaskStatusCompleted, time.Now()))

	done, err := database.GetTask(task.TaskID)
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)

	// Rolling back removes the result and its tasks together.
	require.NoError(t, database.DeleteExecution("res-1"))

	_, err = database.GetResult("res-1")
	assert.ErrorIs(t, err, ErrResultNotFound)

	_, err = database.GetTask(task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateResultAndLatestTerminal(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.CreateScanConfig(testConfig()))

	now := time.Now().UTC().Truncate(time.Second)

	older, _ := testExecutionAt(t, database, "cfg-1", "res-old", now.Add(-time.Hour))
	newer, _ := testExecutionAt(t, database, "cfg-1", "res-new", now)

	// No terminal sibling yet.
	_, err := database.LatestTerminalResult("cfg-1", "res-new", newer.CreatedAt)
	assert.ErrorIs(t, err, ErrResultNotFound)

	older.Status = models.ResultStatusCompleted
	older.Hosts = map[string]models.HostResult{
		"192.168.1.1": {State: models.HostStateUp, OpenPorts: []int{22}},
	}
	older.Contributing = []string{"agent-aa11"}
	older.RecomputeSummary()
	require.NoError(t, database.UpdateResult(older))

	baseline, err := database.LatestTerminalResult("cfg-1", "res-new", newer.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "res-old", baseline.ResultID)
	assert.Equal(t, []int{22}, baseline.Hosts["192.168.1.1"].OpenPorts)
	assert.Equal(t, []string{"agent-aa11"}, baseline.Contributing)

	// A result never counts as its own baseline.
	_, err = database.LatestTerminalResult("cfg-1", "res-old", older.CreatedAt)
	assert.ErrorIs(t, err, ErrResultNotFound)

	results, err := database.ListResultsByConfig("cfg-1", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// Overlapping executions of one config can finalize out of creation
// order; a result created later must never be picked as baseline for an
// earlier one, no matter which finalized first.
func TestLatestTerminalResult_BaselinePredatesCurrent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.CreateScanConfig(testConfig()))

	seed := func(resultID string, createdAt time.Time, status models.ResultStatus) *models.AggregatedResult {
		result := &models.AggregatedResult{
			ResultID:  resultID,
			ConfigID:  "cfg-1",
			GroupID:   "group-" + resultID,
			Status:    models.ResultStatusPending,
			Hosts:     map[string]models.HostResult{},
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}

		require.NoError(t, database.CreateExecution(result, []models.Task{{
			TaskID: "task-" + resultID, GroupID: result.GroupID,
			ConfigID: "cfg-1", ResultID: resultID, AgentID: "agent-aa11",
			Targets: []string{"192.168.1.1"}, Ports: "22",
			Status: models.TaskStatusPending, CreatedAt: createdAt,
		}}))

		result.Status = status
		require.NoError(t, database.UpdateResult(result))

		return result
	}

	now := time.Now().UTC().Truncate(time.Second)

	base := seed("res-base", now.Add(-20*time.Minute), models.ResultStatusCompleted)
	early := seed("res-early", now.Add(-10*time.Minute), models.ResultStatusCompleted)
	// Created after res-early but finalized before it.
	seed("res-late", now.Add(-5*time.Minute), models.ResultStatusCompleted)

	baseline, err := database.LatestTerminalResult("cfg-1", early.ResultID, early.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, base.ResultID, baseline.ResultID, "later-created result must not serve as baseline")

	// With no result created before it, the oldest has no baseline.
	_, err = database.LatestTerminalResult("cfg-1", base.ResultID, base.CreatedAt)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestDeltaReportRoundtrip(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.CreateScanConfig(testConfig()))

	testExecution(t, database, "cfg-1", "res-a")
	testExecution(t, database, "cfg-1", "res-b")

	report := &models.DeltaReport{
		ReportID:         "rep-1",
		ConfigID:         "cfg-1",
		BaselineResultID: "res-a",
		CurrentResultID:  "res-b",
		NewPortsCount:    1,
		Payload: models.DeltaPayload{
			NewPorts: []models.PortChange{{Host: "192.168.1.1", Port: 8080, Service: "http-proxy"}},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, database.CreateDeltaReport(report))

	got, err := database.GetDeltaReport("rep-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.NewPortsCount)
	assert.Equal(t, "http-proxy", got.Payload.NewPorts[0].Service)

	byResult, err := database.GetDeltaReportForResult("res-b")
	require.NoError(t, err)
	assert.Equal(t, "rep-1", byResult.ReportID)

	_, err = database.GetDeltaReportForResult("res-a")
	assert.ErrorIs(t, err, ErrReportNotFound)

	// One report per current result, enforced by the schema.
	dup := *report
	dup.ReportID = "rep-2"
	assert.Error(t, database.CreateDeltaReport(&dup))

	all, err := database.ListDeltaReports("cfg-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	quiet, err := database.ListDeltaReports("cfg-1", true)
	require.NoError(t, err)
	assert.Len(t, quiet, 1) // rep-1 has changes

	empty, err := database.ListDeltaReports("other-cfg", false)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSystemStats(t *testing.T) {
	database := newTestDB(t)

	empty, err := database.SystemStats()
	require.NoError(t, err)
	assert.Empty(t, empty.AgentsByState)
	assert.Zero(t, empty.TotalConfigs)

	require.NoError(t, database.UpsertAgent(testAgent("agent-aa11")))
	require.NoError(t, database.UpsertAgent(testAgent("agent-bb22")))
	require.NoError(t, database.UpdateAgentState("agent-bb22", models.AgentStateOnline))

	require.NoError(t, database.CreateScanConfig(testConfig()))
	testExecution(t, database, "cfg-1", "res-1")

	stats, err := database.SystemStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AgentsByState[models.AgentStatePending])
	assert.Equal(t, 1, stats.AgentsByState[models.AgentStateOnline])
	assert.Equal(t, 1, stats.TotalConfigs)
	assert.Equal(t, 1, stats.ActiveConfigs)
	assert.Equal(t, 1, stats.TotalResults)
	assert.Equal(t, 2, stats.PendingTasks)
	assert.Zero(t, stats.TotalReports)
}
