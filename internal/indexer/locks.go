package indexer

import "sync"

// siteLocks hands out one mutex per site ID.
type siteLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newSiteLocks() *siteLocks {
	return &siteLocks{locks: make(map[int64]*sync.Mutex)}
}

// lock blocks until the site's mutex is held and returns its release func.
func (l *siteLocks) lock(siteID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[siteID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[siteID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
