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

const taskColumns = `task_id, group_id, config_id, result_id, agent_id, targets, ports,
	status, created_at, assigned_at, completed_at`

func scanTask(row Row) (*models.Task, error) {
	var (
		t                       models.Task
		targetsJSON             string
		assignedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&t.TaskID,
		&t.GroupID,
		&t.ConfigID,
		&t.ResultID,
		&t.AgentID,
		&targetsJSON,
		&t.Ports,
		&t.Status,
		&t.CreatedAt,
		&assignedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(targetsJSON), &t.Targets); err != nil {
		return nil, fmt.Errorf("%w task targets: %w", ErrFailedToUnmarshal, err)
	}

	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}

	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	return &t, nil
}

// GetTask returns the task with the given id.
func (db *DB) GetTask(taskID string) (*models.Task, error) {
	row := db.QueryRow(`
        SELECT `+taskColumns+`
        FROM tasks
        WHERE task_id = ?
    `, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w task: %w", ErrFailedToQuery, err)
	}

	return task, nil
}

// UpdateTaskStatus moves a task to the given status. Terminal statuses
// also record the completion timestamp; assigned records assignment time.
func (db *DB) UpdateTaskStatus(taskID string, status models.TaskStatus, at time.Time) error {
	var (
		result Result
		err    error
	)

	switch {
	case status == models.TaskStatusAssigned:
		result, err = db.Exec(`
            UPDATE tasks SET status = ?, assigned_at = ? WHERE task_id = ?
        `, status, at, taskID)
	case status.Terminal():
		result, err = db.Exec(`
            UPDATE tasks SET status = ?, completed_at = ? WHERE task_id = ?
        `, status, at, taskID)
	default:
		result, err = db.Exec(`
            UPDATE tasks SET status = ? WHERE task_id = ?
        `, status, taskID)
	}

	if err != nil {
		return fmt.Errorf("%w task status: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// ListTasksByGroup returns every task of one execution.
func (db *DB) ListTasksByGroup(groupID string) ([]models.Task, error) {
	rows, err := db.Query(`
        SELECT `+taskColumns+`
        FROM tasks
        WHERE group_id = ?
        ORDER BY created_at, task_id
    `, groupID) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w tasks: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var tasks []models.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w task row: %w", ErrFailedToScan, err)
		}

		tasks = append(tasks, *task)
	}

	return tasks, nil
}
