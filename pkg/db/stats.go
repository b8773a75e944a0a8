package db

import (
	"fmt"
	"log"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// SystemStats aggregates counts across every table for the status
// endpoint.
func (db *DB) SystemStats() (*models.SystemStats, error) {
	stats := &models.SystemStats{
		AgentsByState: make(map[models.AgentState]int),
	}

	rows, err := db.Query(`SELECT state, COUNT(*) FROM agents GROUP BY state`) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w agent counts: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	for rows.Next() {
		var (
			state models.AgentState
			count int
		)

		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("%w agent count row: %w", ErrFailedToScan, err)
		}

		stats.AgentsByState[state] = count
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM scan_configs`, &stats.TotalConfigs},
		{`SELECT COUNT(*) FROM scan_configs WHERE active = 1`, &stats.ActiveConfigs},
		{`SELECT COUNT(*) FROM scan_results`, &stats.TotalResults},
		{`SELECT COUNT(*) FROM tasks WHERE status IN ('pending', 'assigned')`, &stats.PendingTasks},
		{`SELECT COUNT(*) FROM delta_reports`, &stats.TotalReports},
	}

	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("%w counts: %w", ErrFailedToQuery, err)
		}
	}

	return stats, nil
}
