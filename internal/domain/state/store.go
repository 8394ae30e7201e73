package state

import (
	"context"
	"errors"
	"sync"
)

// Store errors.
var (
	// ErrNotFound means no state has been persisted for this host.
	ErrNotFound = errors.New("install state not found")
	// ErrCorrupt means persisted state exists but cannot be trusted.
	ErrCorrupt = errors.New("install state is corrupt")
	// ErrLocked means another process holds the host lock.
	ErrLocked = errors.New("install already in progress")
	// ErrSaveFailed wraps every persistence failure in Save.
	ErrSaveFailed = errors.New("failed to save install state")
	// ErrNotLocked means Unlock was called without a held lock.
	ErrNotLocked = errors.New("install lock not held")
)

// Store persists InstallState for one host.
type Store interface {
	// Load returns the persisted state, ErrNotFound, or an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context) (*InstallState, error)
	// Save replaces the persisted state atomically.
	Save(ctx context.Context, st *InstallState) error
	// Lock acquires the host-scoped exclusive lock without blocking.
	Lock() error
	// Unlock releases the lock.
	Unlock() error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	state   *InstallState
	history []*InstallState
	locked  bool

	// LoadErr and SaveErr, when set, are returned by Load and Save.
	LoadErr error
	SaveErr error
	// FailSaveAfter lets the first n saves succeed before SaveErr applies.
	// Zero applies SaveErr immediately.
	FailSaveAfter int
	saves         int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a MemoryStore holding a copy of st.
func NewMemoryStoreWith(st *InstallState) *MemoryStore {
	return &MemoryStore{state: st.Clone()}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*InstallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.state == nil {
		return nil, ErrNotFound
	}
	return m.state.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *InstallState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil && (m.FailSaveAfter == 0 || m.saves >= m.FailSaveAfter) {
		return m.SaveErr
	}
	m.saves++
	m.state = st.Clone()
	m.history = append(m.history, st.Clone())
	return nil
}

// Lock implements Store.
func (m *MemoryStore) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return ErrLocked
	}
	m.locked = true
	return nil
}

// Unlock implements Store.
func (m *MemoryStore) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locked {
		return ErrNotLocked
	}
	m.locked = false
	return nil
}

// Locked reports whether the lock is held.
func (m *MemoryStore) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// State returns a copy of the current state, or nil.
func (m *MemoryStore) State() *InstallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// History returns a copy of every saved state, oldest first.
func (m *MemoryStore) History() []*InstallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*InstallState, len(m.history))
	for i, st := range m.history {
		out[i] = st.Clone()
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
