// Package db pkg/db/db.go provides SQLite persistence for agents, scan
// configurations, tasks, aggregated results and delta reports.
package db

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// SQL statements for database initialization.
	createTablesSQL = `
	-- Scanning agents
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		hostname TEXT,
		address TEXT,
		port INTEGER NOT NULL DEFAULT 0,
		grpc_port INTEGER NOT NULL DEFAULT 0,
		owned_range TEXT,
		state TEXT NOT NULL DEFAULT 'pending',
		first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Scan configurations
	CREATE TABLE IF NOT EXISTS scan_configs (
		config_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		target TEXT NOT NULL,
		ports TEXT NOT NULL DEFAULT '1-1000',
		scan_arguments TEXT,
		interval_seconds INTEGER NOT NULL DEFAULT 3600,
		active BOOLEAN NOT NULL DEFAULT 1,
		recurring BOOLEAN NOT NULL DEFAULT 0,
		last_run TIMESTAMP,
		next_run TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Dispatched tasks; group_id binds the tasks of one execution
	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		config_id TEXT NOT NULL,
		result_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		targets TEXT NOT NULL,
		ports TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		assigned_at TIMESTAMP,
		completed_at TIMESTAMP,
		FOREIGN KEY (config_id) REFERENCES scan_configs(config_id) ON DELETE CASCADE,
		FOREIGN KEY (result_id) REFERENCES scan_results(result_id) ON DELETE CASCADE
	);

	-- Aggregated results, one per execution
	CREATE TABLE IF NOT EXISTS scan_results (
		result_id TEXT PRIMARY KEY,
		config_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		full_coverage BOOLEAN NOT NULL DEFAULT 0,
		hosts TEXT NOT NULL DEFAULT '{}',
		total_targets INTEGER NOT NULL DEFAULT 0,
		completed_targets INTEGER NOT NULL DEFAULT 0,
		failed_targets INTEGER NOT NULL DEFAULT 0,
		total_open_ports INTEGER NOT NULL DEFAULT 0,
		contributing TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		FOREIGN KEY (config_id) REFERENCES scan_configs(config_id) ON DELETE CASCADE
	);

	-- Delta reports; exactly one per current result
	CREATE TABLE IF NOT EXISTS delta_reports (
		report_id TEXT PRIMARY KEY,
		config_id TEXT NOT NULL,
		baseline_result_id TEXT NOT NULL,
		current_result_id TEXT NOT NULL UNIQUE,
		new_hosts_count INTEGER NOT NULL DEFAULT 0,
		removed_hosts_count INTEGER NOT NULL DEFAULT 0,
		new_ports_count INTEGER NOT NULL DEFAULT 0,
		closed_ports_count INTEGER NOT NULL DEFAULT 0,
		changed_services_count INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (config_id) REFERENCES scan_configs(config_id) ON DELETE CASCADE
	);

	-- Indexes for better query performance
	CREATE INDEX IF NOT EXISTS idx_agents_state
		ON agents(state, last_seen);
	CREATE INDEX IF NOT EXISTS idx_tasks_group
		ON tasks(group_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_result
		ON tasks(result_id);
	CREATE INDEX IF NOT EXISTS idx_results_config_time
		ON scan_results(config_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_reports_config_time
		ON delta_reports(config_id, created_at);

	PRAGMA foreign_keys=ON;
	`
)

// DB implements Service on top of a SQLite database.
type DB struct {
	SQL *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (Service, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	db := &DB{sqlDB}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return db, nil
}

// initSchema creates the database tables if they don't exist.
func (db *DB) initSchema() error {
	_, err := db.SQL.Exec(createTablesSQL)

	return err
}

func rollbackOnError(tx Transaction, err error) {
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Error rolling back transaction: %v", rbErr)
		}
	}
}

// CleanOldData removes terminal results and reports older than the
// retention period, along with the tasks of the removed results.
func (db *DB) CleanOldData(retentionPeriod time.Duration) error {
	cutoff := time.Now().Add(-retentionPeriod)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to rollback: %v", rbErr)
			}

			return
		}

		err = tx.Commit()
	}()

	if _, err = tx.Exec(
		"DELETE FROM delta_reports WHERE created_at < ?",
		cutoff,
	); err != nil {
		return fmt.Errorf("%w delta reports: %w", ErrFailedToClean, err)
	}

	if _, err = tx.Exec(
		`DELETE FROM tasks WHERE result_id IN (
			SELECT result_id FROM scan_results
			WHERE created_at < ? AND status IN ('completed', 'partial', 'failed')
		)`,
		cutoff,
	); err != nil {
		return fmt.Errorf("%w tasks: %w", ErrFailedToClean, err)
	}

	if _, err = tx.Exec(
		`DELETE FROM scan_results
		 WHERE created_at < ? AND status IN ('completed', 'partial', 'failed')`,
		cutoff,
	); err != nil {
		return fmt.Errorf("%w scan results: %w", ErrFailedToClean, err)
	}

	return nil
}
