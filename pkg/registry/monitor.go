package registry

import (
	"context"
	"log"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// Monitor demotes agents whose heartbeats have gone silent. It never
// promotes; promotion only happens through an explicit heartbeat.
type Monitor struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
}

// NewMonitor creates a heartbeat monitor. timeout is how long an agent
// may stay silent before being demoted (typically 3x the heartbeat
// interval); interval is how often the sweep runs.
func NewMonitor(r *Registry, timeout, interval time.Duration) *Monitor {
	return &Monitor{
		registry: r,
		timeout:  timeout,
		interval: interval,
	}
}

// Run sweeps on a ticker until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(); err != nil {
				log.Printf("Heartbeat sweep failed: %v", err)
			}
		}
	}
}

// Sweep demotes every online or scanning agent whose last heartbeat is
// older than the timeout. Idempotent: agents already offline are never
// selected.
func (m *Monitor) Sweep() error {
	cutoff := m.registry.now().Add(-m.timeout)

	stale, err := m.registry.db.ListStaleAgents(cutoff)
	if err != nil {
		return err
	}

	for i := range stale {
		agent := &stale[i]

		log.Printf("Marking agent %s (%s) offline, last seen %s",
			agent.AgentID, agent.Hostname, agent.LastSeen.Format(time.RFC3339))

		if err := m.registry.transition(agent.AgentID, models.AgentStateOffline); err != nil {
			log.Printf("Failed to demote agent %s: %v", agent.AgentID, err)
		}
	}

	if len(stale) > 0 {
		log.Printf("Heartbeat sweep demoted %d agents", len(stale))
	}

	return nil
}
