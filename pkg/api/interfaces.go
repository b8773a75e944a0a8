package api

import (
	"context"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// AgentService is the registry surface the API exposes.
type AgentService interface {
	RecordHeartbeat(hb *models.HeartbeatRequest) (*models.HeartbeatResponse, error)
	GetAgent(agentID string) (*models.Agent, error)
	ListAgents() ([]models.Agent, error)
	Approve(agentID string) error
	Revoke(agentID string) error
}

// ResultSink accepts agent result submissions.
type ResultSink interface {
	Submit(sub *models.ResultSubmission) (*models.AggregatedResult, error)
}

// ScanManager owns scan config lifecycle and execution.
type ScanManager interface {
	CreateScanConfig(ctx context.Context, cfg *models.ScanConfig) (*models.ScanConfig, error)
	GetScanConfig(configID string) (*models.ScanConfig, error)
	UpdateScanConfig(ctx context.Context, cfg *models.ScanConfig) (*models.ScanConfig, error)
	DeleteScanConfig(configID string) error
	ListScanConfigs() ([]models.ScanConfig, error)
	ExecuteScan(ctx context.Context, configID string) (*models.AggregatedResult, error)
	ToggleScanConfig(ctx context.Context, configID string) (*models.ScanConfig, error)
	ScheduleScanConfig(ctx context.Context, configID string, interval time.Duration, recurring bool) (*models.ScanConfig, error)
}

// ResultStore is the read side for results and delta reports.
type ResultStore interface {
	GetResult(resultID string) (*models.AggregatedResult, error)
	ListResultsByConfig(configID string, limit int) ([]models.AggregatedResult, error)
	GetDeltaReport(reportID string) (*models.DeltaReport, error)
	GetDeltaReportForResult(currentResultID string) (*models.DeltaReport, error)
	ListDeltaReports(configID string, onlyChanges bool) ([]models.DeltaReport, error)
	SystemStats() (*models.SystemStats, error)
}
