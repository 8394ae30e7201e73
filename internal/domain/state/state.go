// Package state models the durable record of one host's installation.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the persisted format version.
const CurrentVersion = 1

// Status is the overall installation status.
type Status string

// Installation statuses.
const (
	StatusInstalling   Status = "installing"
	StatusInstalled    Status = "installed"
	StatusFailed       Status = "failed"
	StatusUninstalling Status = "uninstalling"
	StatusUninstalled  Status = "uninstalled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInstalling, StatusInstalled, StatusFailed, StatusUninstalling, StatusUninstalled:
		return true
	}
	return false
}

// StepRecord is the persisted progress of one step.
type StepRecord struct {
	Name      string      `yaml:"name"`
	Phase     int         `yaml:"phase"`
	Status    step.Status `yaml:"status"`
	Timestamp time.Time   `yaml:"timestamp"`
}

// FailureRecord describes the failure that ended the last run.
type FailureRecord struct {
	Step      string    `yaml:"step"`
	Phase     int       `yaml:"phase"`
	Message   string    `yaml:"message"`
	Timestamp time.Time `yaml:"timestamp"`
}

// InstallState is the persisted installation progress.
type InstallState struct {
	Version        int            `yaml:"version"`
	RunID          string         `yaml:"run_id"`
	Host           string         `yaml:"host,omitempty"`
	Status         Status         `yaml:"status"`
	CompletedSteps []StepRecord   `yaml:"completed_steps"`
	InFlight       *StepRecord    `yaml:"in_flight,omitempty"`
	Failure        *FailureRecord `yaml:"failure,omitempty"`
	Context        step.Snapshot  `yaml:"context_snapshot"`
	UpdatedAt      time.Time      `yaml:"updated_at"`
}

// New returns an empty state for a fresh run.
func New(runID, host string, now time.Time) *InstallState {
	return &InstallState{
		Version:        CurrentVersion,
		RunID:          runID,
		Host:           host,
		Status:         StatusInstalling,
		CompletedSteps: []StepRecord{},
		UpdatedAt:      now.UTC(),
	}
}

// Active reports whether the host still carries effects of an install: a
// step is in flight or some record is done.
func (s *InstallState) Active() bool {
	if s == nil {
		return false
	}
	if s.InFlight != nil {
		return true
	}
	for _, r := range s.CompletedSteps {
		if r.Status == step.StatusDone {
			return true
		}
	}
	return false
}

// MarkRolledBack sets the record for name to rolled_back.
func (s *InstallState) MarkRolledBack(name string, now time.Time) bool {
	for i := range s.CompletedSteps {
		if s.CompletedSteps[i].Name == name {
			s.CompletedSteps[i].Status = step.StatusRolledBack
			s.CompletedSteps[i].Timestamp = now.UTC()
			return true
		}
	}
	return false
}

// Touch sets UpdatedAt.
func (s *InstallState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Clone returns a deep copy.
func (s *InstallState) Clone() *InstallState {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedSteps = append([]StepRecord{}, s.CompletedSteps...)
	if s.InFlight != nil {
		r := *s.InFlight
		c.InFlight = &r
	}
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	c.Context = s.Context.Clone()
	return &c
}

// Validation errors.
var (
	errVersion   = errors.New("unsupported state version")
	errStatus    = errors.New("unknown installation status")
	errRecord    = errors.New("invalid step record")
	errDuplicate = errors.New("duplicate step record")
)

// Validate checks structural invariants of a loaded state.
func (s *InstallState) Validate() error {
	if s.Version < 1 || s.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", errVersion, s.Version)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: %q", errStatus, s.Status)
	}

	seen := make(map[string]bool, len(s.CompletedSteps))
	for i, r := range s.CompletedSteps {
		if r.Name == "" {
			return fmt.Errorf("%w: record %d has no name", errRecord, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %q", errDuplicate, r.Name)
		}
		seen[r.Name] = true
		if r.Status != step.StatusDone && r.Status != step.StatusRolledBack {
			return fmt.Errorf("%w: %q has status %q", errRecord, r.Name, r.Status)
		}
	}

	if s.InFlight != nil {
		if s.InFlight.Name == "" {
			return fmt.Errorf("%w: in-flight record has no name", errRecord)
		}
		if seen[s.InFlight.Name] {
			return fmt.Errorf("%w: %q is both completed and in flight", errDuplicate, s.InFlight.Name)
		}
		if s.InFlight.Status != step.StatusRunning {
			return fmt.Errorf("%w: in-flight %q has status %q", errRecord, s.InFlight.Name, s.InFlight.Status)
		}
	}
	return nil
}

// Checksum returns the hex sha256 of the canonical YAML encoding of s.
func Checksum(s *InstallState) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
