// Package agent implements the scanning agent: it heartbeats to the
// orchestrator, listens for work orders, runs TCP connect scans over its
// owned range and streams results back.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/config"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/httpx"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/scan"
)

const (
	taskChunkSize       = 32
	httpShutdownTimeout = 5 * time.Second
)

// Service is the agent process.
type Service struct {
	cfg      *config.AgentConfig
	agentID  string
	hostname string
	address  string
	port     int
	grpcPort int
	client   *Client
	scanner  *scan.TCPScanner

	httpServer *http.Server

	mu       sync.Mutex
	approved bool
	scanning int

	tasks sync.WaitGroup
}

// NewService builds the agent from its config, deriving a stable identity
// from the machine's hardware address.
func NewService(cfg *config.AgentConfig) (*Service, error) {
	agentID, hostname, err := DeriveIdentity()
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}

	_, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("parse listen addr %q: %w", cfg.ListenAddr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}

	s := &Service{
		cfg:      cfg,
		agentID:  agentID,
		hostname: hostname,
		address:  LocalAddress(cfg.ServerURL),
		port:     port,
		grpcPort: grpcPortFromAddr(cfg.GrpcAddr),
		client:   NewClient(cfg.ServerURL, agentID),
		scanner:  scan.NewTCPScanner(cfg.ScanTimeout.Duration(), cfg.ScanConcurrency, cfg.ScanRateLimit),
	}

	router := mux.NewRouter()
	router.Use(httpx.CommonMiddleware)
	router.HandleFunc("/tasks", s.handleTask).Methods("POST")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s, nil
}

// AgentID returns the derived identity.
func (s *Service) AgentID() string {
	return s.agentID
}

// Start runs the heartbeat loop and the task listener. It blocks until
// the listener fails or the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	log.Printf("Agent %s (%s) starting, owned range %s", s.agentID, s.hostname, s.cfg.OwnedRange)

	go s.heartbeatLoop(ctx)

	log.Printf("Task listener on %s", s.cfg.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("task listener: %w", err)
	}

	return nil
}

// Stop shuts the listener down and waits for running scans to submit
// their final results.
func (s *Service) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down task listener: %v", err)
	}

	s.tasks.Wait()

	return nil
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	s.sendHeartbeat(ctx)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

func (s *Service) sendHeartbeat(ctx context.Context) {
	hb := &models.HeartbeatRequest{
		AgentID:    s.agentID,
		Hostname:   s.hostname,
		Address:    s.address,
		Port:       s.port,
		GrpcPort:   s.grpcPort,
		OwnedRange: s.cfg.OwnedRange,
	}

	_, err := s.client.Heartbeat(ctx, hb)

	s.mu.Lock()
	wasApproved := s.approved
	s.approved = err == nil
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrNotApproved):
		if wasApproved {
			log.Printf("Approval revoked, waiting for re-approval")
		} else {
			log.Printf("Awaiting approval from orchestrator")
		}
	case err != nil:
		log.Printf("Heartbeat failed: %v", err)
	case !wasApproved:
		log.Printf("Agent approved, ready for work")
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := map[string]interface{}{
		"agent_id":    s.agentID,
		"hostname":    s.hostname,
		"owned_range": s.cfg.OwnedRange,
		"approved":    s.approved,
		"scanning":    s.scanning > 0,
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, status)
}

// handleTask acknowledges a work order and runs the scan in the
// background; results flow back through the results endpoint.
func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	var order models.WorkOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid work order")
		return
	}

	if order.TaskID == "" || order.ResultID == "" || len(order.Targets) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "work order missing task, result or targets")
		return
	}

	log.Printf("Accepted task %s: %d targets, ports %s", order.TaskID, len(order.Targets), order.Ports)

	s.tasks.Add(1)

	s.mu.Lock()
	s.scanning++
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		defer func() {
			s.mu.Lock()
			s.scanning--
			s.mu.Unlock()
		}()

		s.runTask(context.Background(), &order)
	}()

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"task_id": order.TaskID,
		"status":  "accepted",
	})
}

// runTask scans the order's targets chunk by chunk, streaming partial
// results after each chunk and a final submission when done.
func (s *Service) runTask(ctx context.Context, order *models.WorkOrder) {
	start := time.Now()

	ports, err := scan.ParsePortSpec(order.Ports)
	if err != nil {
		log.Printf("Task %s has invalid ports %q: %v", order.TaskID, order.Ports, err)
		s.submitFailure(ctx, order, start)

		return
	}

	merged := make(map[string]models.HostResult, len(order.Targets))
	errorTargets := 0

	for _, chunk := range chunkTargets(order.Targets, taskChunkSize) {
		results, err := s.scanner.Scan(ctx, chunk, ports)
		if err != nil {
			log.Printf("Task %s: chunk scan failed: %v", order.TaskID, err)

			for _, t := range chunk {
				merged[t] = models.HostResult{State: models.HostStateError}
				errorTargets++
			}

			continue
		}

		for t, hr := range results {
			merged[t] = hr
		}

		if len(merged) < len(order.Targets) {
			s.submit(ctx, order, models.SubmissionInProgress, results, models.SummaryStats{
				TotalTargets:  len(order.Targets),
				ErrorTargets:  errorTargets,
				TotalDuration: int(time.Since(start).Seconds()),
			})
		}
	}

	status := models.SubmissionCompleted
	if errorTargets == len(order.Targets) {
		status = models.SubmissionFailed
	}

	s.submit(ctx, order, status, merged, models.SummaryStats{
		TotalTargets:  len(order.Targets),
		ErrorTargets:  errorTargets,
		TotalDuration: int(time.Since(start).Seconds()),
	})

	log.Printf("Task %s finished: %s, %d targets in %s", order.TaskID, status, len(merged), time.Since(start).Round(time.Second))
}

func (s *Service) submitFailure(ctx context.Context, order *models.WorkOrder, start time.Time) {
	results := make(map[string]models.HostResult, len(order.Targets))
	for _, t := range order.Targets {
		results[t] = models.HostResult{State: models.HostStateError}
	}

	s.submit(ctx, order, models.SubmissionFailed, results, models.SummaryStats{
		TotalTargets:  len(order.Targets),
		ErrorTargets:  len(order.Targets),
		TotalDuration: int(time.Since(start).Seconds()),
	})
}

func (s *Service) submit(ctx context.Context, order *models.WorkOrder, status models.SubmissionStatus, results map[string]models.HostResult, stats models.SummaryStats) {
	sub := &models.ResultSubmission{
		ResultID:      order.ResultID,
		TaskID:        order.TaskID,
		AgentID:       s.agentID,
		Status:        status,
		ParsedResults: results,
		SummaryStats:  stats,
	}

	if err := s.client.SubmitResult(ctx, sub); err != nil {
		log.Printf("Error submitting %s results for task %s: %v", status, order.TaskID, err)
	}
}

// grpcPortFromAddr extracts the port from a listen address like ":50051".
// A missing or unparseable address means no health port is advertised.
func grpcPortFromAddr(addr string) int {
	if addr == "" {
		return 0
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}

	return port
}

func chunkTargets(targets []string, size int) [][]string {
	if size <= 0 {
		return [][]string{targets}
	}

	var chunks [][]string

	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}

		chunks = append(chunks, targets[start:end])
	}

	return chunks
}
