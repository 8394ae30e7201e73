package audit

import (
	"context"
	"os/user"
	"strconv"
	"time"
)

// Service records the events of one installer run.
type Service struct {
	journal   Journal
	runID     string
	operation string
	host      string
	now       func() time.Time
}

// NewService binds a journal to a run.
func NewService(journal Journal, runID, operation, host string) *Service {
	if journal == nil {
		journal = NullJournal{}
	}
	return &Service{
		journal:   journal,
		runID:     runID,
		operation: operation,
		host:      host,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) event(t EventType) *EventBuilder {
	return NewEvent(t).At(s.now()).WithRun(s.runID, s.operation, s.host)
}

// RunStarted records the start of the run.
func (s *Service) RunStarted(ctx context.Context, steps int) error {
	b := s.event(EventRunStarted).AddDetail("steps", strconv.Itoa(steps))
	if u := currentUser(); u != "" {
		b.AddDetail("user", u)
	}
	return s.journal.Record(ctx, b.Build())
}

// PrecheckFailed records a failed prerequisite check.
func (s *Service) PrecheckFailed(ctx context.Context, name string, phase int, err error) error {
	return s.journal.Record(ctx, s.event(EventPrecheckFailed).
		WithStep(name, phase).
		WithError(err).
		Build())
}

// StepStarted records a step entering running.
func (s *Service) StepStarted(ctx context.Context, name string, phase int) error {
	return s.journal.Record(ctx, s.event(EventStepStarted).WithStep(name, phase).Build())
}

// StepDone records a successful Execute.
func (s *Service) StepDone(ctx context.Context, name string, phase int, d time.Duration, msg string) error {
	return s.journal.Record(ctx, s.event(EventStepDone).
		WithStep(name, phase).
		WithDuration(d).
		WithMessage(msg).
		Build())
}

// StepFailed records a failed Execute.
func (s *Service) StepFailed(ctx context.Context, name string, phase int, d time.Duration, err error) error {
	return s.journal.Record(ctx, s.event(EventStepFailed).
		WithStep(name, phase).
		WithDuration(d).
		WithError(err).
		Build())
}

// StepRolledBack records a successful Undo.
func (s *Service) StepRolledBack(ctx context.Context, name string, phase int, d time.Duration, msg string) error {
	return s.journal.Record(ctx, s.event(EventStepRolledBack).
		WithStep(name, phase).
		WithDuration(d).
		WithMessage(msg).
		Build())
}

// RollbackFailed records a failed Undo.
func (s *Service) RollbackFailed(ctx context.Context, name string, phase int, d time.Duration, err error) error {
	return s.journal.Record(ctx, s.event(EventRollbackFailed).
		WithStep(name, phase).
		WithSeverity(SeverityWarning).
		WithDuration(d).
		WithError(err).
		Build())
}

// RunFinished records the end of the run.
func (s *Service) RunFinished(ctx context.Context, d time.Duration, err error) error {
	return s.journal.Record(ctx, s.event(EventRunFinished).
		WithDuration(d).
		WithError(err).
		Build())
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
