package agent

import "sync"

// threadLocks serializes turns per thread ID. Two turns in flight for
// the same thread would read-modify-write the same checkpoint history
// non-atomically; turns on different threads stay fully independent.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the thread's lock is held and returns the
// release function. Lock entries are never removed; the set of live
// thread IDs is small and bounded by the retention compactor.
func (l *threadLocks) acquire(threadID string) func() {
	l.mu.Lock()
	m, ok := l.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[threadID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
