package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"workwatch/internal/model"
)

// ErrClosed is returned by a ChannelSource once its channel is closed and drained.
var ErrClosed = errors.New("frame source closed")

func SendNonBlocking(ctx context.Context, out chan<- model.Frame, fr model.Frame, logger *slog.Logger) bool {
	select {
	case out <- fr:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "source", fr.Source, "ingest", fr.Ingest, "seq", fr.Seq)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ChannelSource hands frames from the ingest channel to the pipeline worker.
type ChannelSource struct {
	in <-chan model.Frame
}

func NewChannelSource(in <-chan model.Frame) *ChannelSource {
	return &ChannelSource{in: in}
}

func (s *ChannelSource) Next(ctx context.Context) (model.Frame, error) {
	select {
	case fr, ok := <-s.in:
		if !ok {
			return model.Frame{}, ErrClosed
		}
		return fr, nil
	case <-ctx.Done():
		return model.Frame{}, ctx.Err()
	}
}
