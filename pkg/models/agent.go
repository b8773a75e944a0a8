// Package models holds the domain and wire types shared between the
// orchestrator and the scanning agents.
package models

import (
	"net"
	"strconv"
	"time"
)

// AgentState is the lifecycle state of a scanning agent. Pending is the
// only unapproved state; an agent can never be online or scanning without
// having been approved first.
type AgentState string

const (
	AgentStatePending  AgentState = "pending"
	AgentStateOffline  AgentState = "offline"
	AgentStateOnline   AgentState = "online"
	AgentStateScanning AgentState = "scanning"
)

// agentTransitions enumerates the legal state transitions. Promotion to
// online only ever happens via a heartbeat from an approved agent.
var agentTransitions = map[AgentState][]AgentState{
	AgentStatePending:  {AgentStateOffline},                                       // approve
	AgentStateOffline:  {AgentStateOnline, AgentStatePending},                     // heartbeat, revoke
	AgentStateOnline:   {AgentStateScanning, AgentStateOffline, AgentStatePending}, // dispatch, timeout, revoke
	AgentStateScanning: {AgentStateOnline, AgentStateOffline, AgentStatePending},  // done, timeout, revoke
}

// CanTransition reports whether moving from the current state to next is a
// legal lifecycle transition.
func (s AgentState) CanTransition(next AgentState) bool {
	if s == next {
		return true
	}

	for _, allowed := range agentTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Approved reports whether the agent has been approved by an operator.
func (s AgentState) Approved() bool {
	return s != AgentStatePending
}

// Alive reports whether the agent is currently reachable for dispatch.
func (s AgentState) Alive() bool {
	return s == AgentStateOnline || s == AgentStateScanning
}

// Agent represents a remote scanning agent. AgentID is derived from the
// hardware address of the agent's first physical interface, so it survives
// re-imaging and address changes.
type Agent struct {
	AgentID    string     `json:"agent_id"`
	Hostname   string     `json:"hostname"`
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	GrpcPort   int        `json:"grpc_port,omitempty"` // health endpoint; 0 = not advertised
	OwnedRange string     `json:"owned_range"`         // CIDR the agent scans, e.g. 192.168.1.0/24
	State      AgentState `json:"state"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
}

// Endpoint returns the host:port the agent's work-order listener is
// reachable at.
func (a *Agent) Endpoint() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

// HealthEndpoint returns the host:port of the agent's gRPC health
// service, or "" when the agent does not advertise one.
func (a *Agent) HealthEndpoint() string {
	if a.GrpcPort <= 0 {
		return ""
	}

	return net.JoinHostPort(a.Address, strconv.Itoa(a.GrpcPort))
}
