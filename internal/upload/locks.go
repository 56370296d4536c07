package upload

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes lifecycle mutations per session id. Entries are
// reference-counted so the map does not grow with dead sessions.
type sessionLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[uuid.UUID]*lockEntry)}
}

func (l *sessionLocks) lock(id uuid.UUID) *lockEntry {
	l.mu.Lock()
	e, ok := l.held[id]
	if !ok {
		e = &lockEntry{}
		l.held[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return e
}

func (l *sessionLocks) unlock(id uuid.UUID, e *lockEntry) {
	e.mu.Unlock()

	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.held, id)
	}
	l.mu.Unlock()
}
