// Package license tracks how many engine instances are active on the
// machine. Engines acquire a slot on startup and release it on shutdown; the
// controller resets the count before its first startup so a session that
// crashed without shutting down does not leave a stale slot behind.
package license

import "sync"

// DefaultName is the well-known name of the shared counter.
const DefaultName = "decwav-license"

// Registry is a machine-wide counter of active engine instances.
type Registry interface {
	// ResetActiveCount sets the counter to zero. It reports false if the
	// counter could not be written.
	ResetActiveCount() bool

	// Acquire increments the counter if it is below limit. A limit of zero
	// or less means unlimited.
	Acquire(limit int) bool

	// Release decrements the counter. It never goes below zero.
	Release()
}

// Memory is an in-process Registry.
type Memory struct {
	mu     sync.Mutex
	count  int
	resets int

	// FailReset makes ResetActiveCount report failure.
	FailReset bool
}

// NewMemory returns a Memory registry starting at count.
func NewMemory(count int) *Memory {
	return &Memory{count: count}
}

// ResetActiveCount implements Registry.
func (m *Memory) ResetActiveCount() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReset {
		return false
	}
	m.count = 0
	m.resets++
	return true
}

// Acquire implements Registry.
func (m *Memory) Acquire(limit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > 0 && m.count >= limit {
		return false
	}
	m.count++
	return true
}

// Release implements Registry.
func (m *Memory) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count > 0 {
		m.count--
	}
}

// Count returns the current counter value.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Resets returns how many times the counter was reset.
func (m *Memory) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Nop is a Registry that enforces nothing.
type Nop struct{}

// ResetActiveCount implements Registry.
func (Nop) ResetActiveCount() bool { return true }

// Acquire implements Registry.
func (Nop) Acquire(int) bool { return true }

// Release implements Registry.
func (Nop) Release() {}
