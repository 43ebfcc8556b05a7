package engine

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"workwatch/internal/config"
	"workwatch/internal/metrics"
	"workwatch/internal/model"
)

// Dispatcher receives confirmed episodes. Dispatch must not block.
type Dispatcher interface {
	Dispatch(ep model.Episode)
}

// Identity reports the user currently logged in, or "".
type Identity interface {
	Current() string
}

type Engine struct {
	logger     *slog.Logger
	metrics    *metrics.Store
	collectors *metrics.Collectors
	dispatcher Dispatcher
	identity   Identity
	cfg        atomic.Value
	conds      atomic.Value
	sources    map[string]*SourceState
	mu         sync.Mutex
	cooldown   *Cooldown
	deDupe     *DedupeCache
	now        func() time.Time
}

// SourceState is the evidence kept for one monitored station.
type SourceState struct {
	id        string
	acc       *Accumulator
	conds     *ConditionSet
	frames    uint64
	image     []byte
	imageType string
}

type Option func(*Engine)

func WithCollectors(c *metrics.Collectors) Option {
	return func(e *Engine) { e.collectors = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, dispatcher Dispatcher, identity Identity, opts ...Option) *Engine {
	e := &Engine{
		logger:     logger,
		metrics:    metricsStore,
		dispatcher: dispatcher,
		identity:   identity,
		sources:    make(map[string]*SourceState),
		cooldown:   NewCooldown(),
		deDupe:     NewDedupeCache(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.UpdateConfig(cfg)
	return e
}

// UpdateConfig publishes a new config. Counters pick up changed policies on
// the next frame of their source.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e.cfg.Store(cfg)
	e.conds.Store(buildConditionSet(cfg.Detection))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) conditionSet() *ConditionSet {
	return e.conds.Load().(*ConditionSet)
}

// ProcessFrame runs one classified frame through the accumulator of its
// source and dispatches an episode for every condition that fired.
func (e *Engine) ProcessFrame(frame model.Frame) []model.Episode {
	cfg := e.config()
	cs := e.conditionSet()
	now := e.now().UTC()
	if frame.Source == "" {
		frame.Source = model.DefaultSource
	}
	ts := clampTimestamp(frame.Timestamp, now, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)

	e.mu.Lock()
	if frame.Seq != 0 && e.deDupe.Seen(frameKey(frame.Source, frame.Seq), cfg.Detection.DedupeWindow) {
		e.mu.Unlock()
		e.collectors.FrameDropped("duplicate")
		if e.logger != nil {
			e.logger.Debug("duplicate frame dropped", "source", frame.Source, "seq", frame.Seq)
		}
		return nil
	}
	state := e.getSource(frame.Source, cs)
	state.frames++
	if len(frame.Image) > 0 {
		state.image = frame.Image
		state.imageType = frame.ImageType
	}
	fired := state.acc.Observe(cs.Derive(frame.Detections), ts)
	snapshot := state.acc.Snapshot(state.id)
	image, imageType := state.image, state.imageType
	e.mu.Unlock()

	e.collectors.FrameProcessed(frame.Source)
	for _, st := range snapshot {
		e.collectors.SetCount(st.Source, st.Condition, st.Count)
	}
	if e.metrics != nil {
		e.metrics.Update(frame.Source, snapshot)
	}

	if len(fired) == 0 {
		return nil
	}
	user := ""
	if e.identity != nil {
		user = e.identity.Current()
	}
	episodes := make([]model.Episode, 0, len(fired))
	for _, c := range fired {
		if !e.cooldown.Allow(frame.Source, c, ts, cfg.Detection.MinAlertGap) {
			if e.logger != nil {
				e.logger.Info("episode suppressed by min alert gap",
					"source", frame.Source,
					"condition", c,
					"gap", cfg.Detection.MinAlertGap,
				)
			}
			continue
		}
		ep := model.Episode{
			ID:          uuid.NewString(),
			Condition:   c,
			Cause:       cfg.Detection.Cause(c),
			Message:     cfg.Detection.Message(c),
			Source:      frame.Source,
			Timestamp:   ts,
			TriggeredBy: user,
			Frames:      cs.Policies[c].Threshold,
			Image:       image,
			ImageType:   imageType,
		}
		episodes = append(episodes, ep)
		e.collectors.Episode(ep.Source, ep.Condition)
		if e.logger != nil {
			e.logger.Warn("alert triggered",
				"episode_id", ep.ID,
				"source", ep.Source,
				"condition", ep.Condition,
				"cause", ep.Cause,
				"user", ep.User(),
			)
		}
		if e.dispatcher != nil {
			e.dispatcher.Dispatch(ep)
		}
	}
	return episodes
}

// Rearm clears the debounce of condition on source. An empty source rearms
// the condition on every source.
func (e *Engine) Rearm(source, condition string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	for id, state := range e.sources {
		if source != "" && id != source {
			continue
		}
		if state.acc.Rearm(condition) {
			found = true
			if e.metrics != nil {
				e.metrics.Update(id, state.acc.Snapshot(id))
			}
		}
	}
	return found
}

// Reset zeroes every counter in place and forgets cooldown and dedupe state.
func (e *Engine) Reset() {
	e.mu.Lock()
	for id, state := range e.sources {
		state.acc.Reset()
		if e.metrics != nil {
			e.metrics.Update(id, state.acc.Snapshot(id))
		}
	}
	e.deDupe.Flush()
	e.mu.Unlock()
	e.cooldown.Clear()
}

func (e *Engine) Snapshot(source string) []model.ConditionState {
	if source == "" {
		source = model.DefaultSource
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.sources[source]
	if !ok {
		return nil
	}
	return state.acc.Snapshot(source)
}

func (e *Engine) Sources() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.sources))
	for id := range e.sources {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) getSource(id string, cs *ConditionSet) *SourceState {
	if s, ok := e.sources[id]; ok {
		if s.conds != cs {
			s.acc.Configure(cs.Names, cs.Policies)
			s.conds = cs
		}
		return s
	}
	s := &SourceState{
		id:    id,
		acc:   NewAccumulator(cs.Names, cs.Policies),
		conds: cs,
	}
	e.sources[id] = s
	return s
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
