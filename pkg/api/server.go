// Package api is the orchestrator's HTTP surface: the agent-facing
// heartbeat and result endpoints plus the operator endpoints for agents,
// scan configs, results, delta reports and the websocket event stream.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/aggregator"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/config"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/dispatch"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/httpx"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/registry"
)

const defaultResultsLimit = 50

// Server routes API requests to the orchestrator's components.
type Server struct {
	agents  AgentService
	sink    ResultSink
	scans   ScanManager
	results ResultStore
	hub     *Hub
	router  *mux.Router
}

// NewServer wires the API. The hub may be shared with the component that
// publishes events.
func NewServer(agents AgentService, sink ResultSink, scans ScanManager, results ResultStore, hub *Hub) *Server {
	s := &Server{
		agents:  agents,
		sink:    sink,
		scans:   scans,
		results: results,
		hub:     hub,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()

	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)

	// Agent-facing endpoints
	s.router.HandleFunc("/api/agents/{id}/heartbeat", s.postHeartbeat).Methods("POST")
	s.router.HandleFunc("/api/agents/{id}/results", s.postResults).Methods("POST")

	// Agent administration
	s.router.HandleFunc("/api/agents", s.getAgents).Methods("GET")
	s.router.HandleFunc("/api/agents/{id}", s.getAgent).Methods("GET")
	s.router.HandleFunc("/api/agents/{id}/approve", s.approveAgent).Methods("POST")
	s.router.HandleFunc("/api/agents/{id}/revoke", s.revokeAgent).Methods("POST")

	// Scan configs
	s.router.HandleFunc("/api/scans", s.getScans).Methods("GET")
	s.router.HandleFunc("/api/scans", s.createScan).Methods("POST")
	s.router.HandleFunc("/api/scans/{id}", s.getScan).Methods("GET")
	s.router.HandleFunc("/api/scans/{id}", s.updateScan).Methods("PUT")
	s.router.HandleFunc("/api/scans/{id}", s.deleteScan).Methods("DELETE")
	s.router.HandleFunc("/api/scans/{id}/execute", s.executeScan).Methods("POST")
	s.router.HandleFunc("/api/scans/{id}/toggle", s.toggleScan).Methods("POST")
	s.router.HandleFunc("/api/scans/{id}/schedule", s.scheduleScan).Methods("POST")
	s.router.HandleFunc("/api/scans/{id}/results", s.getScanResults).Methods("GET")
	s.router.HandleFunc("/api/scans/{id}/reports", s.getScanReports).Methods("GET")

	// Results and delta reports
	s.router.HandleFunc("/api/results/{id}", s.getResult).Methods("GET")
	s.router.HandleFunc("/api/results/{id}/report", s.getResultReport).Methods("GET")
	s.router.HandleFunc("/api/reports", s.getReports).Methods("GET")
	s.router.HandleFunc("/api/reports/{id}", s.getReport).Methods("GET")

	// System status
	s.router.HandleFunc("/api/status", s.getStatus).Methods("GET")

	// Event stream
	s.router.HandleFunc("/api/events", s.serveEvents).Methods("GET")
}

func (s *Server) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	var hb models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid heartbeat payload")
		return
	}

	// The path is authoritative for the agent's identity.
	hb.AgentID = agentID

	if hb.Address == "" {
		hb.Address, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	resp, err := s.agents.RecordHeartbeat(&hb)
	if err != nil {
		if errors.Is(err, registry.ErrEmptyAgentID) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		httpx.WriteError(w, http.StatusInternalServerError, err.Error())

		return
	}

	if !resp.Approved {
		// Unapproved agents get their answer with a 403 so simple clients
		// notice without parsing the body.
		httpx.WriteJSON(w, http.StatusForbidden, resp)

		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) postResults(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	var sub models.ResultSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid result payload")
		return
	}

	sub.AgentID = agentID

	result, err := s.sink.Submit(&sub)
	if err != nil {
		switch {
		case errors.Is(err, aggregator.ErrResultNotFound):
			httpx.WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, aggregator.ErrResultFinalized):
			httpx.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, aggregator.ErrTaskMismatch):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result_id": result.ResultID,
		"status":    result.Status,
	})
}

func (s *Server) getAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := s.agents.ListAgents()
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, agents)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agents.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		s.writeAgentError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, agent)
}

func (s *Server) approveAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	if err := s.agents.Approve(agentID); err != nil {
		s.writeAgentError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "state": "offline"})
}

func (s *Server) revokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	if err := s.agents.Revoke(agentID); err != nil {
		s.writeAgentError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "state": "pending"})
}

func (s *Server) writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrAgentNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getScans(w http.ResponseWriter, _ *http.Request) {
	configs, err := s.scans.ListScanConfigs()
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, configs)
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var cfg models.ScanConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid scan config payload")
		return
	}

	created, err := s.scans.CreateScanConfig(r.Context(), &cfg)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.scans.GetScanConfig(mux.Vars(r)["id"])
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, cfg)
}

func (s *Server) updateScan(w http.ResponseWriter, r *http.Request) {
	var cfg models.ScanConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid scan config payload")
		return
	}

	cfg.ID = mux.Vars(r)["id"]

	updated, err := s.scans.UpdateScanConfig(r.Context(), &cfg)
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scans.DeleteScanConfig(mux.Vars(r)["id"]); err != nil {
		s.writeScanError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) executeScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.scans.ExecuteScan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, db.ErrConfigNotFound):
			httpx.WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, dispatch.ErrNoEligibleAgents),
			errors.Is(err, dispatch.ErrDispatchFailed),
			errors.Is(err, dispatch.ErrNoTargets):
			httpx.WriteError(w, http.StatusConflict, err.Error())
		default:
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"result_id":     result.ResultID,
		"status":        result.Status,
		"full_coverage": result.FullCoverage,
	})
}

func (s *Server) toggleScan(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.scans.ToggleScanConfig(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, cfg)
}

// scheduleRequest is the payload for putting a config on a schedule.
// Interval accepts either a duration string or raw nanoseconds.
type scheduleRequest struct {
	Interval  config.Duration `json:"interval"`
	Recurring bool            `json:"recurring"`
}

func (s *Server) scheduleScan(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid schedule payload")
		return
	}

	if req.Interval.Duration() <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "interval must be positive")
		return
	}

	cfg, err := s.scans.ScheduleScanConfig(r.Context(), mux.Vars(r)["id"], req.Interval.Duration(), req.Recurring)
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, cfg)
}

func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrConfigNotFound) {
		httpx.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	httpx.WriteError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) getScanResults(w http.ResponseWriter, r *http.Request) {
	limit := defaultResultsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := s.results.ListResultsByConfig(mux.Vars(r)["id"], limit)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, results)
}

func (s *Server) getScanReports(w http.ResponseWriter, r *http.Request) {
	onlyChanges := r.URL.Query().Get("only_changes") == "true"

	reports, err := s.results.ListDeltaReports(mux.Vars(r)["id"], onlyChanges)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, reports)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.results.SystemStats()
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.results.GetResult(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, db.ErrResultNotFound) {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}

		httpx.WriteError(w, http.StatusInternalServerError, err.Error())

		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) getResultReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.results.GetDeltaReportForResult(mux.Vars(r)["id"])
	if err != nil {
		s.writeReportError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) getReports(w http.ResponseWriter, r *http.Request) {
	configID := r.URL.Query().Get("config_id")
	onlyChanges := r.URL.Query().Get("only_changes") == "true"

	reports, err := s.results.ListDeltaReports(configID, onlyChanges)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, reports)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.results.GetDeltaReport(mux.Vars(r)["id"])
	if err != nil {
		s.writeReportError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) writeReportError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrReportNotFound) {
		httpx.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	httpx.WriteError(w, http.StatusInternalServerError, err.Error())
}
