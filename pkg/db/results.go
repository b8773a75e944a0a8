package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const resultColumns = `result_id, config_id, group_id, status, full_coverage, hosts,
	total_targets, completed_targets, failed_targets, total_open_ports,
	contributing, created_at, updated_at, completed_at`

func scanResult(row Row) (*models.AggregatedResult, error) {
	var (
		r                models.AggregatedResult
		hostsJSON        string
		contributingJSON string
		completedAt      sql.NullTime
	)

	err := row.Scan(
		&r.ResultID,
		&r.ConfigID,
		&r.GroupID,
		&r.Status,
		&r.FullCoverage,
		&hostsJSON,
		&r.Summary.TotalTargets,
		&r.Summary.CompletedTargets,
		&r.Summary.FailedTargets,
		&r.Summary.TotalOpenPorts,
		&contributingJSON,
		&r.CreatedAt,
		&r.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(hostsJSON), &r.Hosts); err != nil {
		return nil, fmt.Errorf("%w result hosts: %w", ErrFailedToUnmarshal, err)
	}

	if err := json.Unmarshal([]byte(contributingJSON), &r.Contributing); err != nil {
		return nil, fmt.Errorf("%w contributing agents: %w", ErrFailedToUnmarshal, err)
	}

	if r.Hosts == nil {
		r.Hosts = make(map[string]models.HostResult)
	}

	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}

	return &r, nil
}

func marshalResultFields(result *models.AggregatedResult) (hosts, contributing string, err error) {
	hostsBytes, err := json.Marshal(result.Hosts)
	if err != nil {
		return "", "", fmt.Errorf("%w result hosts: %w", ErrFailedToMarshal, err)
	}

	if result.Contributing == nil {
		result.Contributing = []string{}
	}

	contribBytes, err := json.Marshal(result.Contributing)
	if err != nil {
		return "", "", fmt.Errorf("%w contributing agents: %w", ErrFailedToMarshal, err)
	}

	return string(hostsBytes), string(contribBytes), nil
}

// CreateExecution atomically persists one aggregated result together with
// its task group, so a result row always exists before any agent is
// contacted.
func (db *DB) CreateExecution(result *models.AggregatedResult, tasks []models.Task) error {
	hosts, contributing, err := marshalResultFields(result)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err) }()

	_, err = tx.Exec(`
        INSERT INTO scan_results
            (result_id, config_id, group_id, status, full_coverage, hosts,
             total_targets, completed_targets, failed_targets, total_open_ports,
             contributing, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, result.ResultID, result.ConfigID, result.GroupID, result.Status, result.FullCoverage,
		hosts, result.Summary.TotalTargets, result.Summary.CompletedTargets,
		result.Summary.FailedTargets, result.Summary.TotalOpenPorts,
		contributing, result.CreatedAt, result.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w scan result: %w", ErrFailedToInsert, err)
	}

	for i := range tasks {
		t := &tasks[i]

		targetsBytes, merr := json.Marshal(t.Targets)
		if merr != nil {
			err = fmt.Errorf("%w task targets: %w", ErrFailedToMarshal, merr)
			return err
		}

		_, err = tx.Exec(`
            INSERT INTO tasks
                (task_id, group_id, config_id, result_id, agent_id, targets, ports, status, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, t.TaskID, t.GroupID, t.ConfigID, t.ResultID, t.AgentID,
			string(targetsBytes), t.Ports, t.Status, t.CreatedAt)
		if err != nil {
			err = fmt.Errorf("%w task: %w", ErrFailedToInsert, err)
			return err
		}
	}

	return tx.Commit()
}

// DeleteExecution removes a result and its tasks; used to roll back a
// dispatch where no agent could be contacted.
func (db *DB) DeleteExecution(resultID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err) }()

	if _, err = tx.Exec(`DELETE FROM tasks WHERE result_id = ?`, resultID); err != nil {
		return fmt.Errorf("%w tasks: %w", ErrFailedToDelete, err)
	}

	if _, err = tx.Exec(`DELETE FROM scan_results WHERE result_id = ?`, resultID); err != nil {
		return fmt.Errorf("%w scan result: %w", ErrFailedToDelete, err)
	}

	return tx.Commit()
}

// GetResult returns the aggregated result with the given id.
func (db *DB) GetResult(resultID string) (*models.AggregatedResult, error) {
	row := db.QueryRow(`
        SELECT `+resultColumns+`
        FROM scan_results
        WHERE result_id = ?
    `, resultID)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w scan result: %w", ErrFailedToQuery, err)
	}

	return result, nil
}

// UpdateResult rewrites the merged state of an aggregated result. The
// caller serializes updates per result id.
func (db *DB) UpdateResult(result *models.AggregatedResult) error {
	hosts, contributing, err := marshalResultFields(result)
	if err != nil {
		return err
	}

	res, err := db.Exec(`
        UPDATE scan_results
        SET status = ?, full_coverage = ?, hosts = ?,
            total_targets = ?, completed_targets = ?, failed_targets = ?, total_open_ports = ?,
            contributing = ?, updated_at = ?, completed_at = ?
        WHERE result_id = ?
    `, result.Status, result.FullCoverage, hosts,
		result.Summary.TotalTargets, result.Summary.CompletedTargets,
		result.Summary.FailedTargets, result.Summary.TotalOpenPorts,
		contributing, result.UpdatedAt, nullableTime(result.CompletedAt), result.ResultID)
	if err != nil {
		return fmt.Errorf("%w scan result: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrResultNotFound
	}

	return nil
}

// ListResultsByConfig returns a configuration's results, newest first.
func (db *DB) ListResultsByConfig(configID string, limit int) ([]models.AggregatedResult, error) {
	rows, err := db.Query(`
        SELECT `+resultColumns+`
        FROM scan_results
        WHERE config_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `, configID, limit) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w scan results: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var results []models.AggregatedResult

	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("%w scan result row: %w", ErrFailedToScan, err)
		}

		results = append(results, *result)
	}

	return results, nil
}

// LatestTerminalResult returns the most recent completed/partial/failed
// result for a configuration created strictly before the given instant
// (result id breaks creation-time ties). Overlapping executions can
// finalize out of order, so a later-created result is never a valid
// baseline even when it finalized first. Returns ErrResultNotFound when
// no baseline exists.
func (db *DB) LatestTerminalResult(configID, beforeResultID string, before time.Time) (*models.AggregatedResult, error) {
	row := db.QueryRow(`
        SELECT `+resultColumns+`
        FROM scan_results
        WHERE config_id = ?
          AND status IN ('completed', 'partial', 'failed')
          AND (created_at < ? OR (created_at = ? AND result_id < ?))
        ORDER BY created_at DESC, result_id DESC
        LIMIT 1
    `, configID, before, before, beforeResultID)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w terminal result: %w", ErrFailedToQuery, err)
	}

	return result, nil
}
