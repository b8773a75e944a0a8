// Package db pkg/db/interfaces.go
package db

import (
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/TeamFixIT/portscan-delta-reporter/pkg/db Row,Result,Rows,Transaction,Service

// Row represents a database row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result represents the result of a database operation.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Rows represents multiple database rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Transaction represents operations that can be performed within a database transaction.
type Transaction interface {
	Exec(query string, args ...interface{}) (Result, error)
	Query(query string, args ...interface{}) (Rows, error)
	QueryRow(query string, args ...interface{}) Row
	Commit() error
	Rollback() error
}

// Service represents all database operations.
type Service interface {
	// Core database operations.

	Begin() (Transaction, error)
	Close() error
	Exec(query string, args ...interface{}) (Result, error)
	Query(query string, args ...interface{}) (Rows, error)
	QueryRow(query string, args ...interface{}) Row

	// Agent operations.

	GetAgent(agentID string) (*models.Agent, error)
	UpsertAgent(agent *models.Agent) error
	UpdateAgentState(agentID string, state models.AgentState) error
	ListAgents() ([]models.Agent, error)
	ListStaleAgents(cutoff time.Time) ([]models.Agent, error)

	// Scan config operations.

	CreateScanConfig(cfg *models.ScanConfig) error
	GetScanConfig(configID string) (*models.ScanConfig, error)
	UpdateScanConfig(cfg *models.ScanConfig) error
	ListScanConfigs(onlyActive bool) ([]models.ScanConfig, error)
	DeleteScanConfig(configID string) error
	UpdateRunTimes(configID string, lastRun, nextRun time.Time) error

	// Task operations.

	GetTask(taskID string) (*models.Task, error)
	UpdateTaskStatus(taskID string, status models.TaskStatus, at time.Time) error
	ListTasksByGroup(groupID string) ([]models.Task, error)

	// Execution operations. An execution is one result row plus its task
	// group, created and deleted atomically.

	CreateExecution(result *models.AggregatedResult, tasks []models.Task) error
	DeleteExecution(resultID string) error

	// Result operations.

	GetResult(resultID string) (*models.AggregatedResult, error)
	UpdateResult(result *models.AggregatedResult) error
	ListResultsByConfig(configID string, limit int) ([]models.AggregatedResult, error)
	LatestTerminalResult(configID, beforeResultID string, before time.Time) (*models.AggregatedResult, error)

	// Delta report operations.

	CreateDeltaReport(report *models.DeltaReport) error
	GetDeltaReport(reportID string) (*models.DeltaReport, error)
	GetDeltaReportForResult(currentResultID string) (*models.DeltaReport, error)
	ListDeltaReports(configID string, onlyChanges bool) ([]models.DeltaReport, error)

	// Maintenance operations.

	SystemStats() (*models.SystemStats, error)
	CleanOldData(retentionPeriod time.Duration) error
}
