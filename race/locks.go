package race

import (
	"sync"

	"github.com/google/uuid"
)

// groupLocks serializes lifecycle and submission work per channel group.
// Ordering across different groups is unconstrained; within one group a
// stop-then-start sequence or two concurrent submissions must not interleave.
type groupLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Lock acquires the mutex for the given group id, creating it on first use,
// and returns the unlock function. Lock entries are never evicted; a bot
// serves a bounded number of groups (ten per server).
func (g *groupLocks) Lock(id uuid.UUID) func() {
	g.mu.Lock()
	m, ok := g.locks[id]
	if !ok {
		m = &sync.Mutex{}
		g.locks[id] = m
	}
	g.mu.Unlock()
	m.Lock()
	return m.Unlock
}
