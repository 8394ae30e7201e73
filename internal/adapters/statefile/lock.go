package statefile

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"github.com/gofrs/flock"
)

// hostLock is a non-blocking advisory file lock.
type hostLock struct {
	mu   sync.Mutex
	path string
	fl   *flock.Flock
}

func newHostLock(path string) *hostLock {
	return &hostLock{path: path}
}

func (l *hostLock) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fl != nil {
		return state.ErrLocked
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is held by another process", state.ErrLocked, l.path)
	}
	l.fl = fl
	return nil
}

func (l *hostLock) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fl == nil {
		return state.ErrNotLocked
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return nil
}
