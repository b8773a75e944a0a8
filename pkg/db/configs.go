package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const configColumns = `config_id, name, description, target, ports, scan_arguments,
	interval_seconds, active, recurring, last_run, next_run, created_at, updated_at`

func scanConfig(row Row) (*models.ScanConfig, error) {
	var (
		cfg              models.ScanConfig
		intervalSeconds  int64
		lastRun, nextRun sql.NullTime
	)

	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Description,
		&cfg.Target,
		&cfg.Ports,
		&cfg.ScanArguments,
		&intervalSeconds,
		&cfg.Active,
		&cfg.Recurring,
		&lastRun,
		&nextRun,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Interval = time.Duration(intervalSeconds) * time.Second

	if lastRun.Valid {
		cfg.LastRun = &lastRun.Time
	}

	if nextRun.Valid {
		cfg.NextRun = &nextRun.Time
	}

	return &cfg, nil
}

// CreateScanConfig persists a new scan configuration.
func (db *DB) CreateScanConfig(cfg *models.ScanConfig) error {
	_, err := db.Exec(`
        INSERT INTO scan_configs
            (config_id, name, description, target, ports, scan_arguments,
             interval_seconds, active, recurring, last_run, next_run, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, cfg.ID, cfg.Name, cfg.Description, cfg.Target, cfg.Ports, cfg.ScanArguments,
		int64(cfg.Interval/time.Second), cfg.Active, cfg.Recurring,
		nullableTime(cfg.LastRun), nullableTime(cfg.NextRun), cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w scan config: %w", ErrFailedToInsert, err)
	}

	return nil
}

// GetScanConfig returns the scan configuration with the given id.
func (db *DB) GetScanConfig(configID string) (*models.ScanConfig, error) {
	row := db.QueryRow(`
        SELECT `+configColumns+`
        FROM scan_configs
        WHERE config_id = ?
    `, configID)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w scan config: %w", ErrFailedToQuery, err)
	}

	return cfg, nil
}

// UpdateScanConfig rewrites the mutable fields of a configuration.
func (db *DB) UpdateScanConfig(cfg *models.ScanConfig) error {
	result, err := db.Exec(`
        UPDATE scan_configs
        SET name = ?, description = ?, target = ?, ports = ?, scan_arguments = ?,
            interval_seconds = ?, active = ?, recurring = ?,
            last_run = ?, next_run = ?, updated_at = ?
        WHERE config_id = ?
    `, cfg.Name, cfg.Description, cfg.Target, cfg.Ports, cfg.ScanArguments,
		int64(cfg.Interval/time.Second), cfg.Active, cfg.Recurring,
		nullableTime(cfg.LastRun), nullableTime(cfg.NextRun), cfg.UpdatedAt, cfg.ID)
	if err != nil {
		return fmt.Errorf("%w scan config: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrConfigNotFound
	}

	return nil
}

// ListScanConfigs returns configurations, newest first.
func (db *DB) ListScanConfigs(onlyActive bool) ([]models.ScanConfig, error) {
	query := `
        SELECT ` + configColumns + `
        FROM scan_configs
    `
	if onlyActive {
		query += ` WHERE active = 1`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(query) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w scan configs: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var configs []models.ScanConfig

	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("%w scan config row: %w", ErrFailedToScan, err)
		}

		configs = append(configs, *cfg)
	}

	return configs, nil
}

// DeleteScanConfig removes a configuration together with everything
// derived from it: tasks, results and delta reports.
func (db *DB) DeleteScanConfig(configID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err) }()

	for _, stmt := range []string{
		"DELETE FROM tasks WHERE config_id = ?",
		"DELETE FROM delta_reports WHERE config_id = ?",
		"DELETE FROM scan_results WHERE config_id = ?",
	} {
		if _, err = tx.Exec(stmt, configID); err != nil {
			return fmt.Errorf("%w scan config children: %w", ErrFailedToDelete, err)
		}
	}

	var result Result

	result, err = tx.Exec("DELETE FROM scan_configs WHERE config_id = ?", configID)
	if err != nil {
		return fmt.Errorf("%w scan config: %w", ErrFailedToDelete, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = ErrConfigNotFound
		return err
	}

	return tx.Commit()
}

// UpdateRunTimes advances a configuration's schedule bookkeeping.
func (db *DB) UpdateRunTimes(configID string, lastRun, nextRun time.Time) error {
	result, err := db.Exec(`
        UPDATE scan_configs
        SET last_run = ?, next_run = ?, updated_at = ?
        WHERE config_id = ?
    `, lastRun, nextRun, time.Now(), configID)
	if err != nil {
		return fmt.Errorf("%w run times: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrConfigNotFound
	}

	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}

	return *t
}
