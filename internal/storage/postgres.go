package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"workwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string, maxEntries int, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/workwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, maxEntries: maxEntries, logger: logger}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS log_entries (
			id BIGSERIAL PRIMARY KEY,
			time_detected TIMESTAMPTZ NOT NULL,
			cause TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
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

func (s *postgresStore) Append(ctx context.Context, entry model.LogEntry) error {
	if s.db == nil {
		return nil
	}
	return s.insert(ctx,
		`INSERT INTO log_entries (time_detected, cause, name, created_at) VALUES ($1, $2, $3, $4)`,
		entry.TimeDetected.UTC(),
		entry.Cause,
		entry.Name,
		nowUTC(),
	)
}

func (s *postgresStore) Query(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_detected, cause, name FROM log_entries
		ORDER BY time_detected DESC, id DESC LIMIT $1`, s.limit(limit))
	if err != nil {
		return nil, err
	}
	return s.scanEntries(rows, func(r *sql.Rows) (model.LogEntry, error) {
		var entry model.LogEntry
		err := r.Scan(&entry.TimeDetected, &entry.Cause, &entry.Name)
		entry.TimeDetected = entry.TimeDetected.Local()
		return entry, err
	})
}

func (s *postgresStore) Clear(ctx context.Context) error {
	return s.clear(ctx)
}
