// Package registry owns agent identity, range ownership, approval and
// liveness. It is the single source of truth the dispatcher consults for
// eligible agents.
package registry

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// Registry tracks scanning agents. All state lives in the database; the
// registry enforces the lifecycle transition table on top of it.
type Registry struct {
	db  db.Service
	now func() time.Time
}

// New creates a Registry backed by the given database.
func New(database db.Service) *Registry {
	return &Registry{
		db:  database,
		now: time.Now,
	}
}

// RegisterOrUpdate upserts an agent. New identities enter the pending
// state and must be approved by an operator before they receive work.
func (r *Registry) RegisterOrUpdate(hb *models.HeartbeatRequest) (*models.Agent, error) {
	if hb.AgentID == "" {
		return nil, ErrEmptyAgentID
	}

	now := r.now()

	existing, err := r.db.GetAgent(hb.AgentID)
	if err != nil && !errors.Is(err, db.ErrAgentNotFound) {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}

	agent := &models.Agent{
		AgentID:    hb.AgentID,
		Hostname:   hb.Hostname,
		Address:    hb.Address,
		Port:       hb.Port,
		GrpcPort:   hb.GrpcPort,
		OwnedRange: hb.OwnedRange,
		State:      models.AgentStatePending,
		FirstSeen:  now,
		LastSeen:   now,
	}

	if existing != nil {
		agent.State = existing.State
		agent.FirstSeen = existing.FirstSeen
	} else {
		log.Printf("New agent registered: %s (%s), awaiting approval", hb.AgentID, hb.Address)
	}

	if err := r.db.UpsertAgent(agent); err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}

	return agent, nil
}

// Approve marks a pending agent as approved. The agent stays offline
// until its next heartbeat promotes it.
func (r *Registry) Approve(agentID string) error {
	return r.transition(agentID, models.AgentStateOffline)
}

// Revoke withdraws approval. The agent is forced out of any online or
// scanning state and must be re-approved before it is ever eligible
// again.
func (r *Registry) Revoke(agentID string) error {
	return r.transition(agentID, models.AgentStatePending)
}

func (r *Registry) transition(agentID string, next models.AgentState) error {
	agent, err := r.db.GetAgent(agentID)
	if err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			return ErrAgentNotFound
		}

		return fmt.Errorf("lookup agent: %w", err)
	}

	if agent.State == next {
		return nil
	}

	if !agent.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, agent.State, next)
	}

	if err := r.db.UpdateAgentState(agentID, next); err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}

	log.Printf("Agent %s: %s -> %s", agentID, agent.State, next)

	return nil
}

// RecordHeartbeat updates an agent's bookkeeping (address, range, last
// seen) and, if the agent is approved, promotes it to online. Heartbeats
// from unapproved agents are accepted but answered with approved=false so
// the caller keeps polling.
func (r *Registry) RecordHeartbeat(hb *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	agent, err := r.RegisterOrUpdate(hb)
	if err != nil {
		return nil, err
	}

	if !agent.State.Approved() {
		return &models.HeartbeatResponse{
			Approved: false,
			Message:  "agent registered, awaiting approval",
		}, nil
	}

	// A heartbeat from a scanning agent is bookkeeping only; it does not
	// demote the agent back to online mid-task.
	if agent.State == models.AgentStateOffline {
		if err := r.transition(hb.AgentID, models.AgentStateOnline); err != nil {
			return nil, err
		}
	}

	return &models.HeartbeatResponse{
		Approved: true,
		Message:  "heartbeat accepted",
	}, nil
}

// MarkScanning moves an online agent to scanning when work is dispatched
// to it.
func (r *Registry) MarkScanning(agentID string) error {
	return r.transition(agentID, models.AgentStateScanning)
}

// MarkIdle returns a scanning agent to online once its task reaches a
// terminal state.
func (r *Registry) MarkIdle(agentID string) error {
	return r.transition(agentID, models.AgentStateOnline)
}

// GetAgent returns one agent.
func (r *Registry) GetAgent(agentID string) (*models.Agent, error) {
	agent, err := r.db.GetAgent(agentID)
	if err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			return nil, ErrAgentNotFound
		}

		return nil, err
	}

	return agent, nil
}

// ListAgents returns every known agent in registration order.
func (r *Registry) ListAgents() ([]models.Agent, error) {
	return r.db.ListAgents()
}

// EligibleAgents returns, in stable registration order, every approved
// and currently alive agent whose owned range covers at least one of the
// given targets. Overlapping owned ranges across agents are accepted as
// declared; the dispatcher resolves overlap by assignment order.
func (r *Registry) EligibleAgents(targets []string) ([]models.Agent, error) {
	agents, err := r.db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var eligible []models.Agent

	for _, agent := range agents {
		if !agent.State.Approved() || !agent.State.Alive() {
			continue
		}

		if RangeCoversAny(agent.OwnedRange, targets) {
			eligible = append(eligible, agent)
		}
	}

	return eligible, nil
}

// ParseRange parses an agent's owned range. A malformed range covers
// nothing.
func ParseRange(ownedRange string) (*net.IPNet, bool) {
	_, ipnet, err := net.ParseCIDR(ownedRange)
	if err != nil {
		return nil, false
	}

	return ipnet, true
}

// RangeCoversAny reports whether the CIDR range covers at least one of
// the target addresses.
func RangeCoversAny(ownedRange string, targets []string) bool {
	ipnet, ok := ParseRange(ownedRange)
	if !ok {
		return false
	}

	for _, target := range targets {
		ip := net.ParseIP(target)
		if ip != nil && ipnet.Contains(ip) {
			return true
		}
	}

	return false
}
