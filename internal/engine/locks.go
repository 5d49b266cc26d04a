package engine

import "sync"

// executionLocks serializes work on a single execution without blocking
// unrelated executions. Entries are refcounted and removed once the last
// holder releases, so the map does not grow with execution history.
type executionLocks struct {
	mu    sync.Mutex
	locks map[string]*executionLock
}

type executionLock struct {
	mu   sync.Mutex
	refs int
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{locks: make(map[string]*executionLock)}
}

// Acquire blocks until the per-execution lock is held and returns the
// release function. The release function must be called exactly once.
func (l *executionLocks) Acquire(executionID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[executionID]
	if !ok {
		entry = &executionLock{}
		l.locks[executionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, executionID)
		}
		l.mu.Unlock()
	}
}
