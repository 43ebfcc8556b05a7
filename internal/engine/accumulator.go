package engine

import (
	"time"

	"workwatch/internal/model"
)

// Policy holds the trigger parameters of one condition.
type Policy struct {
	Threshold     int
	ResetInterval time.Duration
}

// Accumulator keeps one evidence counter per tracked condition. It is not
// safe for concurrent use; the owning worker serialises access.
type Accumulator struct {
	conditions []string
	policies   map[string]Policy
	counters   map[string]*model.Counter
}

func NewAccumulator(conditions []string, policies map[string]Policy) *Accumulator {
	a := &Accumulator{counters: make(map[string]*model.Counter, len(conditions))}
	a.Configure(conditions, policies)
	return a
}

// Configure replaces the tracked set. Counters of conditions that remain
// tracked keep their evidence.
func (a *Accumulator) Configure(conditions []string, policies map[string]Policy) {
	kept := make(map[string]*model.Counter, len(conditions))
	names := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if _, dup := kept[c]; dup {
			continue
		}
		if counter, ok := a.counters[c]; ok {
			kept[c] = counter
		} else {
			kept[c] = &model.Counter{}
		}
		names = append(names, c)
	}
	a.conditions = names
	a.counters = kept
	a.policies = policies
}

func (a *Accumulator) policy(c string) Policy {
	p := a.policies[c]
	if p.Threshold <= 0 {
		p.Threshold = 1
	}
	return p
}

// Observe advances every counter by one frame and returns the conditions
// that fired, in tracked order.
func (a *Accumulator) Observe(present map[string]struct{}, now time.Time) []string {
	var fired []string
	for _, c := range a.conditions {
		counter := a.counters[c]
		p := a.policy(c)

		if _, ok := present[c]; ok {
			if counter.Count == 0 {
				counter.WindowStart = now
			}
			counter.Count++
		} else {
			counter.Count = 0
			counter.Armed = false
		}

		if counter.Count > 0 && p.ResetInterval > 0 && now.Sub(counter.WindowStart) >= p.ResetInterval {
			counter.Count = 0
			counter.Armed = false
		}

		if counter.Count >= p.Threshold && !counter.Armed {
			counter.Armed = true
			counter.Count = 0
			fired = append(fired, c)
		}
	}
	return fired
}

// Rearm clears the debounce flag and evidence of c.
func (a *Accumulator) Rearm(c string) bool {
	counter, ok := a.counters[c]
	if !ok {
		return false
	}
	counter.Count = 0
	counter.Armed = false
	return true
}

func (a *Accumulator) Reset() {
	for _, counter := range a.counters {
		*counter = model.Counter{}
	}
}

func (a *Accumulator) Counter(c string) (model.Counter, bool) {
	counter, ok := a.counters[c]
	if !ok {
		return model.Counter{}, false
	}
	return *counter, true
}

func (a *Accumulator) Snapshot(source string) []model.ConditionState {
	out := make([]model.ConditionState, 0, len(a.conditions))
	for _, c := range a.conditions {
		counter := a.counters[c]
		p := a.policy(c)
		st := model.ConditionState{
			Source:        source,
			Condition:     c,
			State:         counter.State(),
			Count:         counter.Count,
			Threshold:     p.Threshold,
			ResetInterval: p.ResetInterval,
			Armed:         counter.Armed,
		}
		if counter.Count > 0 {
			ws := counter.WindowStart
			st.WindowStart = &ws
		}
		out = append(out, st)
	}
	return out
}
