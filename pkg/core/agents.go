package core

import (
	"errors"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/aggregator"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/api"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/registry"
)

// agentService wraps the registry so approval decisions reach event
// subscribers.
type agentService struct {
	registry *registry.Registry
	hub      *api.Hub
}

func (s *Server) agentFacade() api.AgentService {
	return &agentService{registry: s.registry, hub: s.hub}
}

func (a *agentService) RecordHeartbeat(hb *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	if _, err := a.registry.GetAgent(hb.AgentID); errors.Is(err, registry.ErrAgentNotFound) {
		defer a.hub.Publish(api.EventAgentRegistered, map[string]string{
			"agent_id": hb.AgentID,
			"address":  hb.Address,
		})
	}

	return a.registry.RecordHeartbeat(hb)
}

func (a *agentService) GetAgent(agentID string) (*models.Agent, error) {
	return a.registry.GetAgent(agentID)
}

func (a *agentService) ListAgents() ([]models.Agent, error) {
	return a.registry.ListAgents()
}

func (a *agentService) Approve(agentID string) error {
	if err := a.registry.Approve(agentID); err != nil {
		return err
	}

	a.hub.Publish(api.EventAgentApproved, map[string]string{"agent_id": agentID})

	return nil
}

func (a *agentService) Revoke(agentID string) error {
	if err := a.registry.Revoke(agentID); err != nil {
		return err
	}

	a.hub.Publish(api.EventAgentRevoked, map[string]string{"agent_id": agentID})

	return nil
}

// resultSink wraps the aggregator so in-flight progress reaches event
// subscribers; terminal transitions are published by the finalization
// hook instead.
type resultSink struct {
	aggregator *aggregator.Aggregator
	hub        *api.Hub
}

func (s *Server) sinkFacade() api.ResultSink {
	return &resultSink{aggregator: s.aggregator, hub: s.hub}
}

func (s *resultSink) Submit(sub *models.ResultSubmission) (*models.AggregatedResult, error) {
	result, err := s.aggregator.Submit(sub)
	if err != nil {
		return nil, err
	}

	if !result.Status.Terminal() {
		s.hub.Publish(api.EventResultUpdated, map[string]interface{}{
			"result_id": result.ResultID,
			"config_id": result.ConfigID,
			"agent_id":  sub.AgentID,
			"summary":   result.Summary,
		})
	}

	return result, nil
}
