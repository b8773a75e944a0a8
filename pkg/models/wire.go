package models

// WorkOrder is the dispatch call sent from the orchestrator to an agent's
// task listener. A success acknowledgment only means the work was
// accepted, not that it completed.
type WorkOrder struct {
	ScanID        string   `json:"scan_id"`
	TaskID        string   `json:"task_id"`
	ResultID      string   `json:"result_id"`
	Targets       []string `json:"targets"`
	Ports         string   `json:"ports"`
	ScanArguments string   `json:"scan_arguments"`
}

// SubmissionStatus is the outcome an agent reports for its task. Agents
// may submit partial progress any number of times before the final
// completed/failed submission.
type SubmissionStatus string

const (
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionFailed     SubmissionStatus = "failed"
)

// SummaryStats carries the agent's own view of its slice of the scan.
type SummaryStats struct {
	TotalTargets  int `json:"total_targets"`
	ErrorTargets  int `json:"error_targets"`
	TotalDuration int `json:"total_duration_seconds"`
}

// ResultSubmission is one asynchronous result upload from an agent.
// ParsedResults is keyed by target address.
type ResultSubmission struct {
	ResultID      string                `json:"result_id"`
	TaskID        string                `json:"task_id"`
	AgentID       string                `json:"agent_id"`
	Status        SubmissionStatus      `json:"status"`
	ParsedResults map[string]HostResult `json:"parsed_results"`
	SummaryStats  SummaryStats          `json:"summary_stats"`
}

// HeartbeatRequest is the periodic registration/liveness signal an agent
// sends to the orchestrator.
type HeartbeatRequest struct {
	AgentID    string `json:"agent_id"`
	Hostname   string `json:"hostname"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	GrpcPort   int    `json:"grpc_port,omitempty"`
	OwnedRange string `json:"owned_range"`
}

// HeartbeatResponse tells the agent whether it has been approved. While
// Approved is false the agent must keep polling and must not expect work.
type HeartbeatResponse struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message"`
}
