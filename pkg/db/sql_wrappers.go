// Package db pkg/db/sql_wrappers.go wraps the database/sql concrete types
// so the Service interface can be satisfied (and mocked) without leaking
// *sql.Tx and friends into the rest of the codebase.
package db

import (
	"database/sql"
)

// SQLRow wraps sql.Row to implement Row interface.
type SQLRow struct {
	*sql.Row
}

// SQLRows wraps sql.Rows to implement Rows interface.
type SQLRows struct {
	*sql.Rows
}

// SQLResult wraps sql.Result to implement Result interface.
type SQLResult struct {
	sql.Result
}

// SQLTx wraps sql.Tx to implement Transaction interface.
type SQLTx struct {
	*sql.Tx
}

func (tx *SQLTx) Exec(query string, args ...interface{}) (Result, error) {
	result, err := tx.Tx.Exec(query, args...)
	if err != nil {
		return nil, err
	}

	return &SQLResult{result}, nil
}

func (tx *SQLTx) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := tx.Tx.Query(query, args...)
	if err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SQLRows{rows}, nil
}

func (tx *SQLTx) QueryRow(query string, args ...interface{}) Row {
	return &SQLRow{tx.Tx.QueryRow(query, args...)}
}

func (db *DB) Begin() (Transaction, error) {
	tx, err := db.SQL.Begin()
	if err != nil {
		return nil, err
	}

	return &SQLTx{tx}, nil
}

func (db *DB) Exec(query string, args ...interface{}) (Result, error) {
	result, err := db.SQL.Exec(query, args...)
	if err != nil {
		return nil, err
	}

	return &SQLResult{result}, nil
}

func (db *DB) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := db.SQL.Query(query, args...)
	if err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SQLRows{rows}, nil
}

func (db *DB) QueryRow(query string, args ...interface{}) Row {
	return &SQLRow{db.SQL.QueryRow(query, args...)}
}

func (db *DB) Close() error {
	return db.SQL.Close()
}
