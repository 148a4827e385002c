package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock is an arena of mutexes keyed by string. Locks for distinct keys
// are independent; a key's mutex is dropped as soon as no goroutine holds
// or waits for it.
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

func (l *KeyLock) Lock(key string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. It must pair with a previous Lock
// of the same key by the same goroutine.
func (l *KeyLock) Unlock(key string) {
	l.mu.Lock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
