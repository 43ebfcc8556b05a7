// Package session holds the identity of the operator currently logged in at
// the monitored workstation.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyUser = errors.New("user name is empty")

type Session struct {
	mu      sync.RWMutex
	user    string
	since   time.Time
	history []Event
}

// Event records one login or logout.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
}

const historyLimit = 50

func New() *Session {
	return &Session{}
}

// Login replaces the current user.
func (s *Session) Login(user string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrEmptyUser
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.since = now
	s.record(Event{Timestamp: now, User: user, Action: "login"})
	return nil
}

// Logout clears the current user and returns who was logged in.
func (s *Session) Logout() string {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.user
	if prev != "" {
		s.record(Event{Timestamp: now, User: prev, Action: "logout"})
	}
	s.user = ""
	s.since = time.Time{}
	return prev
}

// Current returns the logged in user, or "" when nobody is.
func (s *Session) Current() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

func (s *Session) History() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.history...)
}

func (s *Session) record(ev Event) {
	if len(s.history) >= historyLimit {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, ev)
}
