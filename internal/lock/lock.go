// Package lock serializes read-modify-write of step files within one process.
package lock

import (
	"path/filepath"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// MutexMap holds one mutex per key. Entries are dropped once no goroutine
// holds or waits on them.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*entry
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*entry),
	}
}

func (m *MutexMap) Lock(key string) {
	m.acquire(key).mu.Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.mutexes[key]
	if !ok {
		m.mu.Unlock()
		panic("lock: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(m.mutexes, key)
	}
	m.mu.Unlock()
	e.mu.Unlock()
}

// With runs fn while holding key.
func (m *MutexMap) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Len reports the number of keys currently held or awaited.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

func (m *MutexMap) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.mutexes[key]
	if !ok {
		e = &entry{}
		m.mutexes[key] = e
	}
	e.refs++
	return e
}

// PathKey normalizes a file path for use as a key.
func PathKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
