// Package audit records per-step outcomes of installer runs as an
// append-only, hash-chained journal.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of journal event.
type EventType string

// Run level events.
const (
	EventRunStarted     EventType = "run_started"
	EventRunFinished    EventType = "run_finished"
	EventPrecheckFailed EventType = "precheck_failed"
)

// Step level events.
const (
	EventStepStarted    EventType = "step_started"
	EventStepDone       EventType = "step_done"
	EventStepFailed     EventType = "step_failed"
	EventStepRolledBack EventType = "step_rolled_back"
	EventRollbackFailed EventType = "rollback_failed"
)

// Severity represents the importance level of an event.
type Severity string

// Severity levels.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single journal entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event"`
	Severity  Severity  `json:"severity"`

	// RunID groups the events of one installer invocation.
	RunID     string `json:"run_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	Host      string `json:"host,omitempty"`

	Step  string `json:"step,omitempty"`
	Phase int    `json:"phase,omitempty"`

	Duration time.Duration `json:"-"`
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`

	Details map[string]string `json:"details,omitempty"`

	// PreviousHash is the EventHash of the preceding entry in the journal.
	PreviousHash string `json:"previous_hash,omitempty"`
	EventHash    string `json:"event_hash,omitempty"`
}

// MarshalJSON implements json.Marshaler with duration as milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		Alias
		DurationMs int64 `json:"duration_ms,omitempty"`
	}{
		Alias:      Alias(e),
		DurationMs: e.Duration.Milliseconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler with duration from milliseconds.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		*Alias
		DurationMs int64 `json:"duration_ms,omitempty"`
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// Validate checks that the event has all required fields.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("event timestamp is required")
	}
	if e.Severity == "" {
		return errors.New("event severity is required")
	}
	return nil
}

// ComputeHash calculates the SHA256 hash of the event content, excluding
// EventHash itself.
func (e *Event) ComputeHash() string {
	c := *e
	c.EventHash = ""

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyHash checks if the event's hash matches its content.
func (e Event) VerifyHash() bool {
	if e.EventHash == "" {
		return true
	}
	return e.ComputeHash() == e.EventHash
}

// EventBuilder provides a fluent API for building events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new event builder with required fields.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Type:      eventType,
			Severity:  SeverityInfo,
			Success:   true,
		},
	}
}

// At overrides the timestamp.
func (b *EventBuilder) At(t time.Time) *EventBuilder {
	b.event.Timestamp = t.UTC()
	return b
}

// WithRun sets run identity.
func (b *EventBuilder) WithRun(runID, operation, host string) *EventBuilder {
	b.event.RunID = runID
	b.event.Operation = operation
	b.event.Host = host
	return b
}

// WithStep sets the step name and phase.
func (b *EventBuilder) WithStep(name string, phase int) *EventBuilder {
	b.event.Step = name
	b.event.Phase = phase
	return b
}

// WithSeverity sets the severity level.
func (b *EventBuilder) WithSeverity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// WithDuration sets the operation duration.
func (b *EventBuilder) WithDuration(d time.Duration) *EventBuilder {
	b.event.Duration = d
	return b
}

// WithMessage sets the message.
func (b *EventBuilder) WithMessage(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// WithError sets the error message and marks the event failed.
func (b *EventBuilder) WithError(err error) *EventBuilder {
	if err != nil {
		b.event.Success = false
		b.event.Error = err.Error()
		if b.event.Severity == SeverityInfo {
			b.event.Severity = SeverityError
		}
	}
	return b
}

// AddDetail adds a single detail.
func (b *EventBuilder) AddDetail(key, value string) *EventBuilder {
	if b.event.Details == nil {
		b.event.Details = make(map[string]string)
	}
	b.event.Details[key] = value
	return b
}

// Build creates the final Event.
func (b *EventBuilder) Build() Event {
	return b.event
}
