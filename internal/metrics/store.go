package metrics

import (
	"sort"
	"sync"
	"time"

	"workwatch/internal/model"
)

// Store keeps the latest counter snapshot of every source for the operator
// surface. Sources that stop reporting are evicted once limit is exceeded.
type Store struct {
	mu        sync.RWMutex
	bySource  map[string]map[string]model.ConditionState
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySource:  make(map[string]map[string]model.ConditionState),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(source string, states []model.ConditionState) {
	if source == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bySource[source]
	if !ok {
		m = make(map[string]model.ConditionState)
		s.bySource[source] = m
	}
	for _, st := range states {
		m[st.Condition] = st
	}
	s.updatedAt[source] = time.Now().UTC()
	if len(s.bySource) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(source string) ([]model.ConditionState, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.bySource[source]
	if !ok {
		return nil, time.Time{}, false
	}
	return sortedStates(m), s.updatedAt[source], true
}

func (s *Store) GetAll() map[string][]model.ConditionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.ConditionState, len(s.bySource))
	for source, m := range s.bySource {
		out[source] = sortedStates(m)
	}
	return out
}

func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySource))
	for source := range s.bySource {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

func sortedStates(m map[string]model.ConditionState) []model.ConditionState {
	out := make([]model.ConditionState, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Condition < out[j].Condition })
	return out
}

func (s *Store) evictOldest() {
	var oldestSource string
	var oldest time.Time
	for source, ts := range s.updatedAt {
		if oldestSource == "" || ts.Before(oldest) {
			oldestSource = source
			oldest = ts
		}
	}
	if oldestSource != "" {
		delete(s.bySource, oldestSource)
		delete(s.updatedAt, oldestSource)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySource = make(map[string]map[string]model.ConditionState)
	s.updatedAt = make(map[string]time.Time)
}
