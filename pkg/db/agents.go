package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const agentColumns = `agent_id, hostname, address, port, grpc_port, owned_range, state, first_seen, last_seen`

func scanAgent(row Row) (*models.Agent, error) {
	var a models.Agent

	err := row.Scan(
		&a.AgentID,
		&a.Hostname,
		&a.Address,
		&a.Port,
		&a.GrpcPort,
		&a.OwnedRange,
		&a.State,
		&a.FirstSeen,
		&a.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// GetAgent returns the agent with the given id.
func (db *DB) GetAgent(agentID string) (*models.Agent, error) {
	row := db.QueryRow(`
        SELECT `+agentColumns+`
        FROM agents
        WHERE agent_id = ?
    `, agentID)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w agent: %w", ErrFailedToQuery, err)
	}

	return agent, nil
}

// UpsertAgent inserts a new agent or updates the mutable fields of an
// existing one. State and first_seen are never touched on update; state
// changes go through UpdateAgentState so the transition table applies.
func (db *DB) UpsertAgent(agent *models.Agent) error {
	result, err := db.Exec(`
        UPDATE agents
        SET hostname = ?,
            address = ?,
            port = ?,
            grpc_port = ?,
            owned_range = ?,
            last_seen = ?
        WHERE agent_id = ?
    `, agent.Hostname, agent.Address, agent.Port, agent.GrpcPort, agent.OwnedRange, agent.LastSeen, agent.AgentID)
	if err != nil {
		return fmt.Errorf("%w agent: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return nil
	}

	_, err = db.Exec(`
        INSERT INTO agents (agent_id, hostname, address, port, grpc_port, owned_range, state, first_seen, last_seen)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, agent.AgentID, agent.Hostname, agent.Address, agent.Port, agent.GrpcPort, agent.OwnedRange,
		agent.State, agent.FirstSeen, agent.LastSeen)
	if err != nil {
		return fmt.Errorf("%w agent: %w", ErrFailedToInsert, err)
	}

	return nil
}

// UpdateAgentState sets the lifecycle state of an agent.
func (db *DB) UpdateAgentState(agentID string, state models.AgentState) error {
	result, err := db.Exec(`
        UPDATE agents SET state = ? WHERE agent_id = ?
    `, state, agentID)
	if err != nil {
		return fmt.Errorf("%w agent state: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAgentNotFound
	}

	return nil
}

func (db *DB) listAgents(query string, args ...interface{}) ([]models.Agent, error) {
	rows, err := db.Query(query, args...) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w agents: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var agents []models.Agent

	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w agent row: %w", ErrFailedToScan, err)
		}

		agents = append(agents, *agent)
	}

	return agents, nil
}

// ListAgents returns every known agent in registration order.
func (db *DB) ListAgents() ([]models.Agent, error) {
	return db.listAgents(`
        SELECT ` + agentColumns + `
        FROM agents
        ORDER BY first_seen, agent_id
    `)
}

// ListStaleAgents returns agents that are marked online or scanning but
// whose last heartbeat predates the cutoff.
func (db *DB) ListStaleAgents(cutoff time.Time) ([]models.Agent, error) {
	return db.listAgents(`
        SELECT `+agentColumns+`
        FROM agents
        WHERE state IN ('online', 'scanning') AND last_seen < ?
        ORDER BY first_seen, agent_id
    `, cutoff)
}
