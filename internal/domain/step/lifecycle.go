package step

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// ErrIllegalTransition is returned when a lifecycle event does not apply to
// the current status. It always indicates an installer bug.
var ErrIllegalTransition = errors.New("illegal step transition")

// Lifecycle events.
const (
	EventStart    = "START"
	EventSucceed  = "SUCCEED"
	EventFail     = "FAIL"
	EventRollback = "ROLLBACK"
)

// State ids of the lifecycle machine. They mirror the Status values.
const (
	statePending    = "pending"
	stateRunning    = "running"
	stateDone       = "done"
	stateFailed     = "failed"
	stateRolledBack = "rolled_back"
)

// Lifecycle tracks the status of a single step:
//
//	pending -> running -> done | failed
//	done    -> rolled_back
type Lifecycle struct {
	name    string
	mu      sync.Mutex
	interp  *statekit.Interpreter[lifecycleContext]
	history []Status
}

type lifecycleContext struct {
	Step string
}

// NewLifecycle returns a lifecycle in StatusPending.
func NewLifecycle(name string) (*Lifecycle, error) {
	machine, err := statekit.NewMachine[lifecycleContext]("step-" + name).
		WithInitial(statePending).
		WithContext(lifecycleContext{Step: name}).
		State(statePending).
		On(EventStart).Target(stateRunning).Done().
		State(stateRunning).
		On(EventSucceed).Target(stateDone).
		On(EventFail).Target(stateFailed).Done().
		State(stateDone).
		On(EventRollback).Target(stateRolledBack).Done().
		State(stateFailed).Done().
		State(stateRolledBack).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build lifecycle for %s: %w", name, err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()

	return &Lifecycle{
		name:    name,
		interp:  interp,
		history: []Status{StatusPending},
	}, nil
}

// RestoreLifecycle returns a lifecycle fast-forwarded to status by replaying
// the events that lead there.
func RestoreLifecycle(name string, status Status) (*Lifecycle, error) {
	lc, err := NewLifecycle(name)
	if err != nil {
		return nil, err
	}

	var events []string
	switch status {
	case StatusPending:
	case StatusRunning:
		events = []string{EventStart}
	case StatusDone:
		events = []string{EventStart, EventSucceed}
	case StatusFailed:
		events = []string{EventStart, EventFail}
	case StatusRolledBack:
		events = []string{EventStart, EventSucceed, EventRollback}
	default:
		return nil, fmt.Errorf("%w: unknown status %q for %s", ErrIllegalTransition, status, name)
	}

	for _, ev := range events {
		if err := lc.fire(ev); err != nil {
			return nil, err
		}
	}
	return lc, nil
}

// Name returns the step name.
func (l *Lifecycle) Name() string {
	return l.name
}

// Status returns the current status.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status(l.interp.State().Value)
}

// History returns every status the lifecycle has been in, oldest first.
func (l *Lifecycle) History() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.history))
	copy(out, l.history)
	return out
}

// Start moves pending to running.
func (l *Lifecycle) Start() error { return l.fire(EventStart) }

// Succeed moves running to done.
func (l *Lifecycle) Succeed() error { return l.fire(EventSucceed) }

// Fail moves running to failed.
func (l *Lifecycle) Fail() error { return l.fire(EventFail) }

// RollBack moves done to rolled_back.
func (l *Lifecycle) RollBack() error { return l.fire(EventRollback) }

func (l *Lifecycle) fire(event string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := Status(l.interp.State().Value)
	if !accepts(before, event) {
		return fmt.Errorf("%w: %s cannot %s from %s", ErrIllegalTransition, l.name, event, before)
	}

	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})

	after := Status(l.interp.State().Value)
	if after == before {
		return fmt.Errorf("%w: %s ignored %s in %s", ErrIllegalTransition, l.name, event, before)
	}
	l.history = append(l.history, after)
	return nil
}

func accepts(from Status, event string) bool {
	switch from {
	case StatusPending:
		return event == EventStart
	case StatusRunning:
		return event == EventSucceed || event == EventFail
	case StatusDone:
		return event == EventRollback
	default:
		return false
	}
}
