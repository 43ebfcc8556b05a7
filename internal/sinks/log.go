package sinks

import (
	"context"

	"workwatch/internal/eventlog"
	"workwatch/internal/model"
)

// LogSink persists every episode as one log entry. It makes a single
// attempt; failures surface through the dispatcher.
type LogSink struct {
	store eventlog.EntryStore
}

func NewLogSink(store eventlog.EntryStore) *LogSink {
	return &LogSink{store: store}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ep model.Episode) error {
	return s.store.Append(ctx, ep.LogEntry())
}
