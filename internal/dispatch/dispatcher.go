// Package dispatch fans confirmed episodes out to notification and
// persistence sinks without letting any sink failure reach the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"workwatch/internal/metrics"
	"workwatch/internal/model"
)

var (
	ErrSinkDelivery = errors.New("sink delivery failure")
	ErrQueueFull    = errors.New("async sink queue full")
)

// Sink consumes episodes. Implementations must be safe for concurrent use
// when registered as Async.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ep model.Episode) error
}

type Mode int

const (
	// Sync sinks run in registration order on the dispatching goroutine.
	Sync Mode = iota
	// Async sinks run on the worker pool.
	Async
)

// Notifier receives operator-visible warnings.
type Notifier interface {
	Warn(component, message string)
}

type Options struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	Logger     *slog.Logger
	Collectors *metrics.Collectors
	Notices    Notifier
}

type job struct {
	sink Sink
	ep   model.Episode
}

type Dispatcher struct {
	logger     *slog.Logger
	collectors *metrics.Collectors
	notices    Notifier
	timeout    time.Duration

	mu        sync.RWMutex
	syncSinks []Sink
	async     []Sink
	closed    bool

	jobs chan job
	wg   sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		logger:     opts.Logger,
		collectors: opts.Collectors,
		notices:    opts.Notices,
		timeout:    opts.Timeout,
		jobs:       make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Register(s Sink, mode Mode) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if mode == Async {
		d.async = append(d.async, s)
		return
	}
	d.syncSinks = append(d.syncSinks, s)
}

// Sinks lists registered sink names, synchronous first.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.syncSinks)+len(d.async))
	for _, s := range d.syncSinks {
		out = append(out, s.Name())
	}
	for _, s := range d.async {
		out = append(out, s.Name())
	}
	return out
}

// Dispatch delivers ep to every sink. It never blocks on async sinks and
// never returns or panics because of a sink.
func (d *Dispatcher) Dispatch(ep model.Episode) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.syncSinks {
		_ = d.deliver(context.Background(), s, ep)
	}
	for _, s := range d.async {
		if d.closed {
			d.fail(s.Name(), ep, errors.New("dispatcher closed"))
			continue
		}
		select {
		case d.jobs <- job{sink: s, ep: ep}:
			d.collectors.SetQueueDepth(len(d.jobs))
		default:
			d.collectors.SinkDropped(s.Name())
			d.fail(s.Name(), ep, ErrQueueFull)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.collectors.SetQueueDepth(len(d.jobs))
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		_ = d.deliver(ctx, j.sink, j.ep)
		cancel()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, ep model.Episode) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		d.collectors.SinkDelivery(s.Name(), err, time.Since(start))
		if err != nil {
			d.fail(s.Name(), ep, err)
		}
	}()
	return s.Deliver(ctx, ep)
}

func (d *Dispatcher) fail(sink string, ep model.Episode, cause error) {
	err := fmt.Errorf("%w: %s: %v", ErrSinkDelivery, sink, cause)
	if d.logger != nil {
		d.logger.Error("sink delivery failed",
			"sink", sink,
			"episode_id", ep.ID,
			"source", ep.Source,
			"condition", ep.Condition,
			"err", err,
		)
	}
	if d.notices != nil {
		d.notices.Warn("sink:"+sink, err.Error())
	}
}

// Close stops accepting async jobs and waits for queued and running jobs
// until ctx is done. Running deliveries are never cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
