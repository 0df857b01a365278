package engine

import "sync"

// keyLock serializes operations on a single (community, member) account key.
// Unrelated keys proceed independently; there is no global trade lock.
// Entries are never evicted: the key space is bounded by active community
// members and a bare mutex is 8 bytes.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its unlock function.
func (l *keyLock) acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
