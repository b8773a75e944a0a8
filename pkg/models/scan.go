package models

import (
	"strings"
	"time"
)

// ScanConfig describes one recurring (or one-shot) scan an operator has
// configured. Target is either a CIDR block or a comma-separated list of
// addresses.
type ScanConfig struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Target        string        `json:"target"`
	Ports         string        `json:"ports"`          // e.g. "1-1024" or "22,80,443"
	ScanArguments string        `json:"scan_arguments"` // passed through to the agent capability
	Interval      time.Duration `json:"interval"`
	Active        bool          `json:"active"`
	Recurring     bool          `json:"recurring"`
	LastRun       *time.Time    `json:"last_run,omitempty"`
	NextRun       *time.Time    `json:"next_run,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsCIDR reports whether the config's target is a CIDR block rather than a
// literal address list.
func (c *ScanConfig) IsCIDR() bool {
	return strings.Contains(c.Target, "/")
}

// TaskStatus is the lifecycle state of a single dispatched task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the task has reached a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one unit of scan work: a subset of the execution's targets
// assigned to exactly one agent. Every task created from the same
// execution of a ScanConfig shares a GroupID; the group has no record of
// its own.
type Task struct {
	TaskID      string     `json:"task_id"`
	GroupID     string     `json:"group_id"`
	ConfigID    string     `json:"config_id"`
	ResultID    string     `json:"result_id"`
	AgentID     string     `json:"agent_id"`
	Targets     []string   `json:"targets"`
	Ports       string     `json:"ports"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
