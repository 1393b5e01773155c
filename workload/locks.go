package workload

import "sync"

// Locks serializes every state transition for a given workload id. A manual
// stop racing a monitor-triggered restart on the same workload takes the
// same lock; operations on different workloads proceed in parallel. There
// is no global lock.
type Locks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[int64]*sync.Mutex)}
}

// Acquire locks the mutex for the given workload id, creating it on first
// use, and returns the unlock function. Locks are never removed from the
// registry; the set of workloads on one host stays small.
func (l *Locks) Acquire(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
