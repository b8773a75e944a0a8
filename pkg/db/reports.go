package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const reportColumns = `report_id, config_id, baseline_result_id, current_result_id,
	new_hosts_count, removed_hosts_count, new_ports_count, closed_ports_count,
	changed_services_count, payload, created_at`

func scanReport(row Row) (*models.DeltaReport, error) {
	var (
		r           models.DeltaReport
		payloadJSON string
	)

	err := row.Scan(
		&r.ReportID,
		&r.ConfigID,
		&r.BaselineResultID,
		&r.CurrentResultID,
		&r.NewHostsCount,
		&r.RemovedHostsCount,
		&r.NewPortsCount,
		&r.ClosedPortsCount,
		&r.ChangedServices,
		&payloadJSON,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &r.Payload); err != nil {
		return nil, fmt.Errorf("%w delta payload: %w", ErrFailedToUnmarshal, err)
	}

	return &r, nil
}

// CreateDeltaReport persists a new report. The UNIQUE constraint on
// current_result_id enforces at most one report per comparison.
func (db *DB) CreateDeltaReport(report *models.DeltaReport) error {
	payloadBytes, err := json.Marshal(report.Payload)
	if err != nil {
		return fmt.Errorf("%w delta payload: %w", ErrFailedToMarshal, err)
	}

	_, err = db.Exec(`
        INSERT INTO delta_reports
            (report_id, config_id, baseline_result_id, current_result_id,
             new_hosts_count, removed_hosts_count, new_ports_count, closed_ports_count,
             changed_services_count, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, report.ReportID, report.ConfigID, report.BaselineResultID, report.CurrentResultID,
		report.NewHostsCount, report.RemovedHostsCount, report.NewPortsCount,
		report.ClosedPortsCount, report.ChangedServices, string(payloadBytes), report.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w delta report: %w", ErrFailedToInsert, err)
	}

	return nil
}

// GetDeltaReport returns the report with the given id.
func (db *DB) GetDeltaReport(reportID string) (*models.DeltaReport, error) {
	row := db.QueryRow(`
        SELECT `+reportColumns+`
        FROM delta_reports
        WHERE report_id = ?
    `, reportID)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w delta report: %w", ErrFailedToQuery, err)
	}

	return report, nil
}

// GetDeltaReportForResult returns the report whose current side is the
// given result, if one was already generated.
func (db *DB) GetDeltaReportForResult(currentResultID string) (*models.DeltaReport, error) {
	row := db.QueryRow(`
        SELECT `+reportColumns+`
        FROM delta_reports
        WHERE current_result_id = ?
    `, currentResultID)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w delta report: %w", ErrFailedToQuery, err)
	}

	return report, nil
}

// ListDeltaReports returns a configuration's reports, newest first,
// optionally filtered to those that recorded changes.
func (db *DB) ListDeltaReports(configID string, onlyChanges bool) ([]models.DeltaReport, error) {
	query := `
        SELECT ` + reportColumns + `
        FROM delta_reports
        WHERE config_id = ?
    `
	if onlyChanges {
		query += ` AND (new_hosts_count > 0 OR removed_hosts_count > 0
            OR new_ports_count > 0 OR closed_ports_count > 0 OR changed_services_count > 0)`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(query, configID) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w delta reports: %w", ErrFailedToQuery, err)
	}
	defer func(rows Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var reports []models.DeltaReport

	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("%w delta report row: %w", ErrFailedToScan, err)
		}

		reports = append(reports, *report)
	}

	return reports, nil
}
