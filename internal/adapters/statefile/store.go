// Package statefile persists install state as a YAML document on disk.
package statefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"gopkg.in/yaml.v3"
)

const (
	// StateFileName is the name of the state document inside the state dir.
	StateFileName = "install-state.yaml"
	// LockFileName is the name of the host lock inside the state dir.
	LockFileName = "install.lock"
)

// document is the on-disk layout: the state plus its checksum.
type document struct {
	state.InstallState `yaml:",inline"`
	Checksum           string `yaml:"checksum"`
}

// Store implements state.Store with a YAML file and an flock.
type Store struct {
	dir  string
	lock *hostLock
}

// New returns a Store rooted at dir. Nothing is created until Lock or Save.
func New(dir string) *Store {
	return &Store{
		dir:  dir,
		lock: newHostLock(filepath.Join(dir, LockFileName)),
	}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

// Load reads and verifies the state file.
func (s *Store) Load(_ context.Context) (*state.InstallState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", state.ErrCorrupt, s.Path())
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", state.ErrCorrupt, err)
	}
	if doc.Checksum == "" {
		return nil, fmt.Errorf("%w: missing checksum", state.ErrCorrupt)
	}

	sum, err := state.Checksum(&doc.InstallState)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", state.ErrCorrupt, err)
	}
	if sum != doc.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", state.ErrCorrupt)
	}

	if err := doc.InstallState.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", state.ErrCorrupt, err)
	}

	st := doc.InstallState
	return &st, nil
}

// Save writes the state to a temp file in the same directory, syncs it and
// renames it over the previous file.
func (s *Store) Save(_ context.Context, st *state.InstallState) error {
	if st == nil {
		return fmt.Errorf("%w: nil state", state.ErrSaveFailed)
	}

	sum, err := state.Checksum(st)
	if err != nil {
		return fmt.Errorf("%w: %w", state.ErrSaveFailed, err)
	}
	data, err := yaml.Marshal(&document{InstallState: *st, Checksum: sum})
	if err != nil {
		return fmt.Errorf("%w: %w", state.ErrSaveFailed, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", state.ErrSaveFailed, err)
	}

	if err := writeAtomic(s.Path(), data); err != nil {
		return fmt.Errorf("%w: %w", state.ErrSaveFailed, err)
	}
	return nil
}

// Lock acquires the host lock.
func (s *Store) Lock() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return s.lock.acquire()
}

// Unlock releases the host lock.
func (s *Store) Unlock() error {
	return s.lock.release()
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

var _ state.Store = (*Store)(nil)
