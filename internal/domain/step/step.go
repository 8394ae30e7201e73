// Package step defines the unit of work the installer orchestrates.
//
// A Step has a forward action (Execute) and a reverse action (Undo). Steps
// never raise: both actions report an Outcome value that the installer
// inspects. Steps are ordered by Phase, with registration order breaking
// ties, and are undone in the exact reverse of that order.
package step

import (
	"context"
	"errors"
	"fmt"
)

// Status is the lifecycle status of a step within one run.
type Status string

// Step statuses.
const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// Step is a named unit of installation work.
type Step interface {
	// Name is unique within an installer.
	Name() string
	// Phase is the ordering rank. Lower phases run first.
	Phase() int
	// Resumable reports whether Execute may be repeated after a crash
	// that left the step running, without calling Undo first.
	Resumable() bool
	// Execute performs the forward action.
	Execute(ctx context.Context, ic *InstallContext) Outcome
	// Undo reverses a previously successful Execute.
	Undo(ctx context.Context, ic *InstallContext) Outcome
}

// Prechecker is implemented by steps that can verify their prerequisites
// before any step of the run executes.
type Prechecker interface {
	Precheck(ctx context.Context, ic *InstallContext) error
}

// Outcome is the result of Execute or Undo.
type Outcome struct {
	ok      bool
	message string
	cause   error
}

// Success returns a successful outcome.
func Success(message string) Outcome {
	return Outcome{ok: true, message: message}
}

// Failure returns a failed outcome. cause may be nil.
func Failure(message string, cause error) Outcome {
	return Outcome{message: message, cause: cause}
}

// OK reports whether the action succeeded.
func (o Outcome) OK() bool {
	return o.ok
}

// Message returns the human readable message.
func (o Outcome) Message() string {
	return o.message
}

// Cause returns the underlying error, if any.
func (o Outcome) Cause() error {
	return o.cause
}

// Err converts a failed outcome into an error. It returns nil on success.
func (o Outcome) Err() error {
	switch {
	case o.ok:
		return nil
	case o.cause == nil && o.message == "":
		return errors.New("step failed")
	case o.cause == nil:
		return errors.New(o.message)
	case o.message == "":
		return o.cause
	default:
		return fmt.Errorf("%s: %w", o.message, o.cause)
	}
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o.ok {
		if o.message == "" {
			return "ok"
		}
		return "ok: " + o.message
	}
	return "failed: " + o.Err().Error()
}
