package connection

import (
	"sync"
	"sync/atomic"
)

// Memory is the connection used with in-memory persisters. Commit and
// Rollback only check that the connection is open.
type Memory struct {
	datastore any

	mu         sync.Mutex
	readOnly   bool
	autoCommit bool
	closed     atomic.Bool
}

// NewMemory returns an open connection over datastore.
func NewMemory(datastore any) *Memory {
	return &Memory{datastore: datastore, autoCommit: true}
}

func (m *Memory) Datastore() any { return m.datastore }

func (m *Memory) ReadOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOnly
}

func (m *Memory) SetReadOnly(readOnly bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
	return nil
}

func (m *Memory) AutoCommit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoCommit
}

func (m *Memory) SetAutoCommit(autoCommit bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoCommit = autoCommit
	return nil
}

func (m *Memory) Commit() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Rollback() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *Memory) IsClosed() bool { return m.closed.Load() }
