// Package db pkg/db/errors.go provides errors for the db package.
package db

import "errors"

var (
	// Core database errors.

	ErrDatabaseError      = errors.New("database error")
	ErrInvalidTransaction = errors.New("invalid transaction type")

	// Operation errors.

	ErrFailedToClean     = errors.New("failed to clean")
	ErrFailedToBeginTx   = errors.New("failed to begin transaction")
	ErrFailedToScan      = errors.New("failed to scan")
	ErrFailedToQuery     = errors.New("failed to query")
	ErrFailedToInsert    = errors.New("failed to insert")
	ErrFailedToUpdate    = errors.New("failed to update")
	ErrFailedToDelete    = errors.New("failed to delete")
	ErrFailedToInit      = errors.New("failed to initialize schema")
	ErrFailedToEnableWAL = errors.New("failed to enable WAL mode")
	ErrFailedOpenDB      = errors.New("failed to open database")
	ErrFailedToMarshal   = errors.New("failed to marshal")
	ErrFailedToUnmarshal = errors.New("failed to unmarshal")

	// Lookup errors.

	ErrAgentNotFound  = errors.New("agent not found")
	ErrConfigNotFound = errors.New("scan config not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrResultNotFound = errors.New("scan result not found")
	ErrReportNotFound = errors.New("delta report not found")
)
