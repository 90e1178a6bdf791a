package lock

import "sync"

// Keyed hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them, so the map only grows with
// the number of keys in use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed creates an empty keyed mutex.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock blocks until the exclusive section for key is available and returns
// the function that releases it.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Do runs fn inside the exclusive section for key.
func (k *Keyed) Do(key string, fn func() error) error {
	unlock := k.Lock(key)
	defer unlock()
	return fn()
}

// size reports how many keys are currently held or awaited.
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
