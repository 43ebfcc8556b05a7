package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/eventlog"
	"workwatch/internal/model"
)

// Store is a SQL backed event log.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Append(ctx context.Context, entry model.LogEntry) error
	Query(ctx context.Context, limit int) ([]model.LogEntry, error)
	Clear(ctx context.Context) error
}

func NewStore(cfg config.StorageConfig, maxEntries int, logger *slog.Logger) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN, maxEntries, logger)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, maxEntries, logger)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db         *sql.DB
	maxEntries int
	logger     *slog.Logger
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) limit(n int) int {
	max := b.maxEntries
	if max <= 0 {
		max = 100
	}
	if n <= 0 || n > max {
		return max
	}
	return n
}

func (b *baseStore) clear(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return fmt.Errorf("%w: clear: %v", eventlog.ErrPersistence, err)
	}
	return nil
}

func (b *baseStore) insert(ctx context.Context, query string, args ...any) error {
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: append: %v", eventlog.ErrPersistence, err)
	}
	return nil
}

// scanEntries reads rows newest first and returns them oldest first. Rows the
// scan reports as eventlog.ErrMalformedRecord are skipped.
func (b *baseStore) scanEntries(rows *sql.Rows, scan func(*sql.Rows) (model.LogEntry, error)) ([]model.LogEntry, error) {
	defer rows.Close()
	out := make([]model.LogEntry, 0)
	for rows.Next() {
		entry, err := scan(rows)
		if errors.Is(err, eventlog.ErrMalformedRecord) {
			if b.logger != nil {
				b.logger.Warn("skipping log record", "err", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
