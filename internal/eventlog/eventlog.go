// Package eventlog persists alert episodes as log entries and serves the
// capped recent-entries view.
package eventlog

import (
	"context"
	"errors"

	"workwatch/internal/model"
)

var (
	ErrPersistence     = errors.New("event log persistence failure")
	ErrMalformedRecord = errors.New("malformed log record")
	ErrDegraded        = errors.New("event log degraded, serving in-memory view")
)

// EntryStore is the durable log contract shared by the CSV file and the SQL
// backends.
type EntryStore interface {
	Append(ctx context.Context, entry model.LogEntry) error
	Query(ctx context.Context, limit int) ([]model.LogEntry, error)
	Clear(ctx context.Context) error
}

// TimeLayout is the on-disk timestamp format, in local time.
const TimeLayout = "2006-01-02 15:04:05"

var header = []string{"Time Detected", "Warning Cause", "Name"}

// view is an in-memory copy of the most recent appended entries.
type view struct {
	buf   []model.LogEntry
	limit int
}

func (v *view) add(e model.LogEntry) {
	if len(v.buf) < v.limit {
		v.buf = append(v.buf, e)
		return
	}
	copy(v.buf, v.buf[1:])
	v.buf[len(v.buf)-1] = e
}

func (v *view) list(limit int) []model.LogEntry {
	if limit <= 0 || limit > len(v.buf) {
		limit = len(v.buf)
	}
	out := make([]model.LogEntry, limit)
	copy(out, v.buf[len(v.buf)-limit:])
	return out
}

func (v *view) resize(limit int) {
	v.limit = limit
	if len(v.buf) > limit {
		v.buf = append([]model.LogEntry(nil), v.buf[len(v.buf)-limit:]...)
	}
}
