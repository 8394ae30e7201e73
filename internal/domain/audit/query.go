package audit

import (
	"slices"
	"time"
)

// QueryFilter defines criteria for filtering events.
type QueryFilter struct {
	// EventTypes filters by event type (empty = all types)
	EventTypes []EventType
	RunID      string
	Step       string
	Since      time.Time
	Until      time.Time
	// FailuresOnly includes only failed events
	FailuresOnly bool
	// Limit keeps only the newest n matches (0 = no limit)
	Limit int
}

// Matches returns true if the event matches the filter.
func (f QueryFilter) Matches(event Event) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, event.Type) {
		return false
	}
	if f.RunID != "" && event.RunID != f.RunID {
		return false
	}
	if f.Step != "" && event.Step != f.Step {
		return false
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && event.Timestamp.After(f.Until) {
		return false
	}
	if f.FailuresOnly && event.Success {
		return false
	}
	return true
}

// Apply returns the matching events, oldest first, honoring Limit.
func (f QueryFilter) Apply(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Summary describes the events of one run.
type Summary struct {
	RunID      string
	Operation  string
	StartedAt  time.Time
	FinishedAt time.Time
	Done       []string
	Failed     []string
	RolledBack []string
	// RollbackFailed lists steps whose undo failed and need manual cleanup.
	RollbackFailed []string
	Success        bool
}

// Summarize folds the events of a single run into a Summary.
func Summarize(events []Event) Summary {
	var s Summary
	for _, e := range events {
		if s.RunID == "" {
			s.RunID = e.RunID
			s.Operation = e.Operation
		}
		switch e.Type {
		case EventRunStarted:
			s.StartedAt = e.Timestamp
		case EventRunFinished:
			s.FinishedAt = e.Timestamp
			s.Success = e.Success
		case EventStepDone:
			s.Done = append(s.Done, e.Step)
		case EventStepFailed:
			s.Failed = append(s.Failed, e.Step)
		case EventStepRolledBack:
			s.RolledBack = append(s.RolledBack, e.Step)
		case EventRollbackFailed:
			s.RollbackFailed = append(s.RollbackFailed, e.Step)
		}
	}
	return s
}

// LastRunID returns the run id of the newest event carrying one.
func LastRunID(events []Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].RunID != "" {
			return events[i].RunID
		}
	}
	return ""
}
