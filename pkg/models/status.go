package models

// SystemStats is the orchestrator-wide snapshot served on the status
// endpoint.
type SystemStats struct {
	AgentsByState map[AgentState]int `json:"agents_by_state"`
	TotalConfigs  int                `json:"total_configs"`
	ActiveConfigs int                `json:"active_configs"`
	TotalResults  int                `json:"total_results"`
	PendingTasks  int                `json:"pending_tasks"`
	TotalReports  int                `json:"total_reports"`
}
