// Package core assembles the orchestrator: storage, agent registry,
// dispatcher, aggregator, delta generation, scheduler and the HTTP API.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/aggregator"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/api"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/config"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/delta"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/dispatch"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/registry"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/scheduler"
)

const (
	httpReadTimeout     = 15 * time.Second
	httpWriteTimeout    = 60 * time.Second
	httpIdleTimeout     = 120 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

var errInvalidConfig = errors.New("invalid scan config")

// Server is the orchestrator service.
type Server struct {
	cfg        *config.ServerConfig
	db         db.Service
	registry   *registry.Registry
	monitor    *registry.Monitor
	dispatcher *dispatch.Dispatcher
	aggregator *aggregator.Aggregator
	generator  *delta.Generator
	scheduler  *scheduler.Scheduler
	hub        *api.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// NewServer wires every component together.
func NewServer(cfg *config.ServerConfig) (*Server, error) {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Server{
		cfg: cfg,
		db:  database,
		hub: api.NewHub(),
	}

	s.registry = registry.New(database)
	s.monitor = registry.NewMonitor(s.registry, cfg.HeartbeatTimeout.Duration(), cfg.SweepInterval.Duration())
	s.generator = delta.NewGenerator(database)
	s.aggregator = aggregator.New(database, s.registry, s.resultFinalized)
	s.dispatcher = dispatch.New(database, s.registry, dispatch.NewHTTPSender(cfg.DispatchTimeout.Duration()), s.aggregator)
	s.scheduler = scheduler.New(database, s.dispatcher)

	s.apiServer = api.NewServer(s.agentFacade(), s.sinkFacade(), s, database, s.hub)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.apiServer.Router(),
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}

	return s, nil
}

// Start brings up the monitor, the scheduler and the HTTP API. It blocks
// until the listener fails or the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.monitor.Run(ctx)
	go s.runRetention(ctx)

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Printf("HTTP API listening on %s", s.cfg.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

// Stop shuts the orchestrator down in dependency order.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	s.scheduler.Stop()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// runRetention purges terminal results and their reports once a day
// until the context is canceled.
func (s *Server) runRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.db.CleanOldData(s.cfg.RetentionPeriod.Duration()); err != nil {
				log.Printf("Error purging old scan data: %v", err)
			}
		}
	}
}

// resultFinalized runs once per result, on its terminal transition: it
// generates the delta report and pushes events to subscribers.
func (s *Server) resultFinalized(result *models.AggregatedResult) {
	s.hub.Publish(api.EventResultFinalized, map[string]interface{}{
		"result_id": result.ResultID,
		"config_id": result.ConfigID,
		"status":    result.Status,
		"summary":   result.Summary,
	})

	report, err := s.generator.Generate(result)
	if err != nil {
		if !errors.Is(err, delta.ErrNoBaseline) {
			log.Printf("Error generating delta report for result %s: %v", result.ResultID, err)
		}

		return
	}

	s.hub.Publish(api.EventReportCreated, report)
}

// CreateScanConfig validates, persists and (when active) schedules a new
// config.
func (s *Server) CreateScanConfig(ctx context.Context, cfg *models.ScanConfig) (*models.ScanConfig, error) {
	if err := validateScanConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.db.CreateScanConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Active {
		s.scheduler.Schedule(ctx, cfg)
	}

	return cfg, nil
}

// GetScanConfig returns one config.
func (s *Server) GetScanConfig(configID string) (*models.ScanConfig, error) {
	return s.db.GetScanConfig(configID)
}

// UpdateScanConfig persists edits and reschedules the config so the new
// interval or target takes effect.
func (s *Server) UpdateScanConfig(ctx context.Context, cfg *models.ScanConfig) (*models.ScanConfig, error) {
	if err := validateScanConfig(cfg); err != nil {
		return nil, err
	}

	existing, err := s.db.GetScanConfig(cfg.ID)
	if err != nil {
		return nil, err
	}

	cfg.CreatedAt = existing.CreatedAt
	cfg.LastRun = existing.LastRun
	cfg.NextRun = existing.NextRun
	cfg.UpdatedAt = time.Now()

	if err := s.db.UpdateScanConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Active {
		s.scheduler.Schedule(ctx, cfg)
	} else if err := s.scheduler.Unschedule(cfg.ID); err != nil && !errors.Is(err, scheduler.ErrNotScheduled) {
		log.Printf("Error unscheduling config %s: %v", cfg.ID, err)
	}

	return cfg, nil
}

// DeleteScanConfig removes a config and everything derived from it.
func (s *Server) DeleteScanConfig(configID string) error {
	if err := s.scheduler.Unschedule(configID); err != nil && !errors.Is(err, scheduler.ErrNotScheduled) {
		log.Printf("Error unscheduling config %s: %v", configID, err)
	}

	return s.db.DeleteScanConfig(configID)
}

// ListScanConfigs returns every config.
func (s *Server) ListScanConfigs() ([]models.ScanConfig, error) {
	return s.db.ListScanConfigs(false)
}

// ExecuteScan launches one execution immediately, outside the schedule.
func (s *Server) ExecuteScan(ctx context.Context, configID string) (*models.AggregatedResult, error) {
	cfg, err := s.db.GetScanConfig(configID)
	if err != nil {
		return nil, err
	}

	result, err := s.dispatcher.Execute(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(api.EventScanDispatched, map[string]interface{}{
		"config_id": cfg.ID,
		"result_id": result.ResultID,
	})

	return result, nil
}

// ToggleScanConfig flips a config between active and inactive, starting
// or stopping its schedule accordingly.
func (s *Server) ToggleScanConfig(ctx context.Context, configID string) (*models.ScanConfig, error) {
	cfg, err := s.db.GetScanConfig(configID)
	if err != nil {
		return nil, err
	}

	cfg.Active = !cfg.Active
	cfg.UpdatedAt = time.Now()

	if err := s.db.UpdateScanConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Active {
		s.scheduler.Schedule(ctx, cfg)
	} else if err := s.scheduler.Unschedule(configID); err != nil && !errors.Is(err, scheduler.ErrNotScheduled) {
		log.Printf("Error unscheduling config %s: %v", configID, err)
	}

	return cfg, nil
}

// ScheduleScanConfig puts a config on a recurring (or one-shot) schedule
// with the given interval and activates it.
func (s *Server) ScheduleScanConfig(ctx context.Context, configID string, interval time.Duration, recurring bool) (*models.ScanConfig, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", errInvalidConfig)
	}

	cfg, err := s.db.GetScanConfig(configID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := now.Add(interval)

	cfg.Interval = interval
	cfg.Recurring = recurring
	cfg.Active = true
	cfg.NextRun = &next
	cfg.UpdatedAt = now

	if err := s.db.UpdateScanConfig(cfg); err != nil {
		return nil, err
	}

	s.scheduler.Schedule(ctx, cfg)

	return cfg, nil
}

func validateScanConfig(cfg *models.ScanConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", errInvalidConfig)
	}

	if cfg.Target == "" {
		return fmt.Errorf("%w: target is required", errInvalidConfig)
	}

	if cfg.Ports == "" {
		return fmt.Errorf("%w: ports are required", errInvalidConfig)
	}

	if cfg.Recurring && cfg.Interval <= 0 {
		return fmt.Errorf("%w: recurring configs need an interval", errInvalidConfig)
	}

	return nil
}
