package concurrency

import "sync"

// KeyedLocks hands out one mutex per refresh key. A project never runs two
// refreshes at once; distinct projects proceed in parallel.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the key's lock is held and returns its release func.
// Locks are never evicted; the key space is the account's project list.
func (k *KeyedLocks) Acquire(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
