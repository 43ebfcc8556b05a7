package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"workwatch/internal/eventlog"
	"workwatch/internal/model"
)

// Fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string, maxEntries int, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:workwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, maxEntries: maxEntries, logger: logger}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time_detected TEXT NOT NULL,
			cause TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_time ON log_entries(time_detected, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Append(ctx context.Context, entry model.LogEntry) error {
	if s.db == nil {
		return nil
	}
	return s.insert(ctx,
		`INSERT INTO log_entries (time_detected, cause, name, created_at) VALUES (?, ?, ?, ?)`,
		entry.TimeDetected.UTC().Format(sqliteTimeLayout),
		entry.Cause,
		entry.Name,
		nowUTC().Format(sqliteTimeLayout),
	)
}

func (s *sqliteStore) Query(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_detected, cause, name FROM log_entries
		ORDER BY time_detected DESC, id DESC LIMIT ?`, s.limit(limit))
	if err != nil {
		return nil, err
	}
	return s.scanEntries(rows, func(r *sql.Rows) (model.LogEntry, error) {
		var ts string
		var entry model.LogEntry
		if err := r.Scan(&ts, &entry.Cause, &entry.Name); err != nil {
			return entry, err
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return entry, fmt.Errorf("%w: time_detected %q", eventlog.ErrMalformedRecord, ts)
		}
		entry.TimeDetected = parsed.Local()
		return entry, nil
	})
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.clear(ctx)
}
