// Package pipeline runs the single worker that owns detection state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"workwatch/internal/classifier"
	"workwatch/internal/metrics"
	"workwatch/internal/model"
)

// ErrClassifierUnavailable ends a run: the frame source is gone or the
// classifier cannot be used any more.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

type FrameSource interface {
	Next(ctx context.Context) (model.Frame, error)
}

// Processor is the part of engine.Engine the worker drives.
type Processor interface {
	ProcessFrame(frame model.Frame) []model.Episode
	Rearm(source, condition string) bool
	Reset()
}

type Notifier interface {
	Error(component, message string)
}

type Options struct {
	ClassifyTimeout     time.Duration
	MaxClassifyFailures int
	CommandQueue        int
	Logger              *slog.Logger
	Collectors          *metrics.Collectors
	Notices             Notifier
}

type commandKind int

const (
	cmdRearm commandKind = iota
	cmdReset
)

type command struct {
	kind      commandKind
	source    string
	condition string
}

type Worker struct {
	source     FrameSource
	classifier classifier.Classifier
	engine     Processor
	opts       Options
	commands   chan command
	stopped    atomic.Bool

	mu        sync.Mutex
	interrupt context.CancelFunc
}

func NewWorker(source FrameSource, c classifier.Classifier, engine Processor, opts Options) *Worker {
	if c == nil {
		c = classifier.Prelabeled{}
	}
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = 64
	}
	return &Worker{
		source:     source,
		classifier: c,
		engine:     engine,
		opts:       opts,
		commands:   make(chan command, opts.CommandQueue),
	}
}

// Rearm queues a rearm of condition on source (all sources when empty). It
// reports false when the command queue is full.
func (w *Worker) Rearm(source, condition string) bool {
	return w.enqueue(command{kind: cmdRearm, source: source, condition: condition})
}

// Reset queues a reset of every counter.
func (w *Worker) Reset() bool {
	return w.enqueue(command{kind: cmdReset})
}

// Stop asks Run to return before its next frame.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	w.wake()
}

func (w *Worker) enqueue(c command) bool {
	select {
	case w.commands <- c:
	default:
		if w.opts.Logger != nil {
			w.opts.Logger.Warn("worker command queue full", "command", c.kind, "condition", c.condition)
		}
		return false
	}
	w.wake()
	return true
}

// wake interrupts a Next call blocked on an idle source.
func (w *Worker) wake() {
	w.mu.Lock()
	if w.interrupt != nil {
		w.interrupt()
	}
	w.mu.Unlock()
}

// Run processes frames until ctx is cancelled or Stop is called, in which
// case it returns nil. Any other exit wraps ErrClassifierUnavailable.
func (w *Worker) Run(ctx context.Context) error {
	logger := w.opts.Logger
	failures := 0
	for {
		if ctx.Err() != nil || w.stopped.Load() {
			return nil
		}
		w.applyCommands()

		frame, interrupted, err := w.next(ctx)
		if err != nil {
			if ctx.Err() != nil || w.stopped.Load() {
				return nil
			}
			if interrupted && errors.Is(err, context.Canceled) {
				continue
			}
			return fmt.Errorf("%w: frame source: %v", ErrClassifierUnavailable, err)
		}

		dets, err := w.classify(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, classifier.ErrUnavailable) {
				return fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
			}
			failures++
			w.opts.Collectors.FrameDropped("classify_error")
			if logger != nil {
				logger.Warn("classify failed", "source", frame.Source, "failures", failures, "err", err)
			}
			if limit := w.opts.MaxClassifyFailures; limit > 0 && failures >= limit {
				if w.opts.Notices != nil {
					w.opts.Notices.Error("classifier", fmt.Sprintf("%d consecutive classify failures: %v", failures, err))
				}
				return fmt.Errorf("%w: %d consecutive failures: %v", ErrClassifierUnavailable, failures, err)
			}
			continue
		}
		failures = 0
		frame.Detections = dets
		w.engine.ProcessFrame(frame)
	}
}

func (w *Worker) next(ctx context.Context) (model.Frame, bool, error) {
	nextCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.interrupt = cancel
	w.mu.Unlock()
	// A command queued between applyCommands and here must not wait for a frame.
	if len(w.commands) > 0 || w.stopped.Load() {
		cancel()
	}
	frame, err := w.source.Next(nextCtx)
	w.mu.Lock()
	w.interrupt = nil
	w.mu.Unlock()
	return frame, nextCtx.Err() != nil && ctx.Err() == nil, err
}

func (w *Worker) classify(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	if w.opts.ClassifyTimeout <= 0 {
		return w.classifier.Classify(ctx, frame)
	}
	cctx, cancel := context.WithTimeout(ctx, w.opts.ClassifyTimeout)
	defer cancel()
	return w.classifier.Classify(cctx, frame)
}

func (w *Worker) applyCommands() {
	for {
		select {
		case c := <-w.commands:
			w.apply(c)
		default:
			return
		}
	}
}

func (w *Worker) apply(c command) {
	logger := w.opts.Logger
	switch c.kind {
	case cmdRearm:
		found := w.engine.Rearm(c.source, c.condition)
		if logger != nil {
			logger.Info("condition rearmed", "source", c.source, "condition", c.condition, "found", found)
		}
	case cmdReset:
		w.engine.Reset()
		if logger != nil {
			logger.Info("counters reset")
		}
	}
}
