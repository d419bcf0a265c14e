// Package intlogdb persists the integration log in Postgres.
// The table is append-only; nothing in the business path reads it.
package intlogdb

import (
	"context"
	"database/sql"

	"fulfillment/internal/intlog"
)

// LogStore persists integration log entries in Postgres.
type LogStore struct {
	db *sql.DB
}

// NewLogStore constructs a LogStore backed by Postgres.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// NewLogStoreWithSchema initializes the schema then returns the store.
func NewLogStoreWithSchema(ctx context.Context, db *sql.DB) (*LogStore, error) {
	store := NewLogStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the integration log table if it does not exist.
func (s *LogStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS integration_log (
			id BIGSERIAL PRIMARY KEY,
			direction TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			request_body TEXT,
			response_body TEXT,
			status_code INTEGER,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (s *LogStore) Record(ctx context.Context, entry intlog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_log
			(direction, endpoint, method, request_body, response_body, status_code, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(entry.Direction), entry.Endpoint, entry.Method,
		entry.RequestBody, entry.ResponseBody, entry.StatusCode, entry.ErrorMessage, entry.CreatedAt,
	)
	return err
}

// Recent returns the newest entries, most recent first (operator diagnostics).
func (s *LogStore) Recent(ctx context.Context, limit int) ([]intlog.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, endpoint, method,
			COALESCE(request_body, ''), COALESCE(response_body, ''),
			COALESCE(status_code, 0), COALESCE(error_message, ''), created_at
		FROM integration_log
		ORDER BY id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []intlog.Entry
	for rows.Next() {
		var entry intlog.Entry
		var direction string
		if err := rows.Scan(&direction, &entry.Endpoint, &entry.Method,
			&entry.RequestBody, &entry.ResponseBody,
			&entry.StatusCode, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = intlog.Direction(direction)
		out = append(out, entry)
	}
	return out, rows.Err()
}
