package wallet

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes mutating operations per account while letting
// different accounts proceed in parallel. Entries are refcounted so the map
// does not grow with every account ever touched.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*mutexEntry
}

type mutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[uuid.UUID]*mutexEntry)}
}

// Acquire blocks until the per-key lock is held and returns the release
// function. Release must be called exactly once.
func (k *keyedMutex) Acquire(key uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &mutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}
