package alerts

import (
	"sync"
	"time"

	"workwatch/internal/model"
)

// Store is a bounded ring of operator notices.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Notice
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(n model.Notice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, n)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = n
}

// Warn records a warning notice for component.
func (s *Store) Warn(component, message string) {
	s.Add(model.Notice{Level: "warn", Component: component, Message: message})
}

func (s *Store) Error(component, message string) {
	s.Add(model.Notice{Level: "error", Component: component, Message: message})
}

func (s *Store) List(limit int) []model.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Notice, 0, limit)
	start := len(s.buf) - limit
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notice, 0)
	for _, n := range s.buf {
		if !n.Timestamp.Before(ts) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
