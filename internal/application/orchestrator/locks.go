package orchestrator

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks serializes work on one master session. Entries are
// reference counted and dropped when the last holder releases.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*lockEntry)}
}

func (l *sessionLocks) acquire(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *sessionLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, id)
	}
}

// withLock runs fn while holding the lock for id.
func (l *sessionLocks) withLock(id string, fn func() error) error {
	entry := l.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(id)
	}()

	return fn()
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
