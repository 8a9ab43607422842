package router

import (
	"sync"

	"github.com/haasonsaas/coop/internal/types"
)

// SessionLocks hands out one mutex per SessionKey, so a single conversation
// can never run two turns concurrently while unrelated sessions proceed in
// parallel.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[types.SessionKey]*sync.Mutex
}

// NewSessionLocks builds an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[types.SessionKey]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns a
// function that releases it. The returned function is safe to call exactly
// once, typically via defer.
func (s *SessionLocks) Lock(key types.SessionKey) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
