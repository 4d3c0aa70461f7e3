package sim

import "sync"

// missionLocks serializes lifecycle work per mission: activation, ticks and
// closing never interleave for the same mission id.
type missionLocks struct {
	mu    sync.Mutex
	locks map[string]*missionLock
}

type missionLock struct {
	sync.Mutex
	refs int
}

func newMissionLocks() *missionLocks {
	return &missionLocks{locks: make(map[string]*missionLock)}
}

// lock blocks until missionID is free and returns its unlock func.
func (l *missionLocks) lock(missionID string) func() {
	l.mu.Lock()
	ml, ok := l.locks[missionID]
	if !ok {
		ml = &missionLock{}
		l.locks[missionID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.Lock()
	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, missionID)
		}
		l.mu.Unlock()
	}
}

func (l *missionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
