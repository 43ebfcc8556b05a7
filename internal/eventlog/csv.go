package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"workwatch/internal/model"
)

// CSVLog is an EntryStore backed by a CSV file. All file access goes
// through one mutex so a clear never interleaves with an append.
type CSVLog struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	loc        *time.Location
	logger     *slog.Logger
	recent     view
}

func NewCSVLog(path string, maxEntries int, logger *slog.Logger) *CSVLog {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &CSVLog{
		path:       path,
		maxEntries: maxEntries,
		loc:        time.Local,
		logger:     logger,
		recent:     view{limit: maxEntries},
	}
}

// SetLocation changes the zone timestamps are written and read in.
func (l *CSVLog) SetLocation(loc *time.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loc != nil {
		l.loc = loc
	}
}

func (l *CSVLog) SetMaxEntries(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxEntries = n
	l.recent.resize(n)
}

func (l *CSVLog) Path() string {
	return l.path
}

func (l *CSVLog) Append(ctx context.Context, entry model.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Name == "" {
		entry.Name = model.UnknownUser
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent.add(entry)
	if err := l.appendRow(entry); err != nil {
		return fmt.Errorf("%w: append %s: %v", ErrPersistence, l.path, err)
	}
	return nil
}

func (l *CSVLog) appendRow(entry model.LogEntry) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write(header)
	}
	_ = w.Write([]string{entry.TimeDetected.In(l.loc).Format(TimeLayout), entry.Cause, entry.Name})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Query returns up to limit of the most recent entries in ascending time
// order. When the file cannot be read the in-memory view is returned along
// with ErrDegraded.
func (l *CSVLog) Query(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.maxEntries {
		limit = l.maxEntries
	}
	entries, err := l.readAll()
	if err != nil {
		if l.logger != nil {
			l.logger.Error("event log read failed", "path", l.path, "err", err)
		}
		return l.recent.list(limit), fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (l *CSVLog) readAll() ([]model.LogEntry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.LogEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := parseCSV(f, l.loc, func(line int, rerr error) {
		if l.logger != nil {
			l.logger.Warn("skipping log record", "path", l.path, "line", line, "err", rerr)
		}
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// parseCSV reads log rows, skipping malformed ones through onSkip, and
// returns them sorted by time. Rows with equal timestamps keep file order.
func parseCSV(r io.Reader, loc *time.Location, onSkip func(line int, err error)) ([]model.LogEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	entries := make([]model.LogEntry, 0)
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				onSkip(line, fmt.Errorf("%w: %v", ErrMalformedRecord, err))
				continue
			}
			return nil, err
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		entry, err := parseRecord(rec, loc)
		if err != nil {
			onSkip(line, err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimeDetected.Before(entries[j].TimeDetected)
	})
	return entries, nil
}

func isHeader(rec []string) bool {
	if len(rec) != len(header) {
		return false
	}
	for i, h := range header {
		if !strings.EqualFold(strings.TrimSpace(rec[i]), h) {
			return false
		}
	}
	return true
}

func parseRecord(rec []string, loc *time.Location) (model.LogEntry, error) {
	if len(rec) < 3 {
		return model.LogEntry{}, fmt.Errorf("%w: %d columns", ErrMalformedRecord, len(rec))
	}
	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return model.LogEntry{TimeDetected: ts, Cause: rec[1], Name: rec[2]}, nil
}

// Clear truncates the file to the header line.
func (l *CSVLog) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent.buf = nil
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrPersistence, l.path, err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(header)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("%w: clear %s: %v", ErrPersistence, l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrPersistence, l.path, err)
	}
	return nil
}
