package dialog

import "sync"

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session so turns of the same session
// run one at a time while different sessions proceed in parallel. An entry
// lives only while some turn holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock acquires the session's mutex and returns its unlock function.
func (l *sessionLocks) lock(sessionID string) func() {
	entry := l.acquire(sessionID)
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.release(sessionID, entry)
	}
}

func (l *sessionLocks) acquire(sessionID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (l *sessionLocks) release(sessionID string, entry *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, sessionID)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
