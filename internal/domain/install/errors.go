package install

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Process exit codes. They are part of the command line contract.
const (
	ExitOK              = 0
	ExitInternal        = 1
	ExitValidation      = 2
	ExitPreflight       = 3
	ExitStepExecution   = 4
	ExitRollback        = 5
	ExitStateCorruption = 6
)

// Preflight error codes.
const (
	ErrCodeLockHeld         = "LOCK_HELD"
	ErrCodeAlreadyInstalled = "ALREADY_INSTALLED"
	ErrCodeResumeConflict   = "RESUME_CONFLICT"
	ErrCodeNothingInstalled = "NOTHING_INSTALLED"
	ErrCodeNothingToResume  = "NOTHING_TO_RESUME"
	ErrCodePrecheckFailed   = "PRECHECK_FAILED"
	ErrCodeStateUnavailable = "STATE_UNAVAILABLE"
)

// Sentinels for errors.Is against PreflightError codes.
var (
	ErrLockHeld         = &PreflightError{Code: ErrCodeLockHeld}
	ErrAlreadyInstalled = &PreflightError{Code: ErrCodeAlreadyInstalled}
	ErrResumeConflict   = &PreflightError{Code: ErrCodeResumeConflict}
	ErrNothingInstalled = &PreflightError{Code: ErrCodeNothingInstalled}
	ErrNothingToResume  = &PreflightError{Code: ErrCodeNothingToResume}
	ErrPrecheckFailed   = &PreflightError{Code: ErrCodePrecheckFailed}
	ErrStateUnavailable = &PreflightError{Code: ErrCodeStateUnavailable}
)

// ValidationError is an invalid invocation. Nothing has been touched.
type ValidationError struct {
	Field      string // flag, argument, or config key
	Message    string
	Suggestion string
	Underlying error
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// WithSuggestion returns a copy with the suggestion set.
func (e *ValidationError) WithSuggestion(s string) *ValidationError {
	c := *e
	c.Suggestion = s
	return &c
}

// WithUnderlying returns a copy wrapping err.
func (e *ValidationError) WithUnderlying(err error) *ValidationError {
	c := *e
	c.Underlying = err
	return &c
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	if e.Field == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Field, msg)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Underlying
}

// Format returns a fully formatted error with all details.
func (e *ValidationError) Format() string {
	return formatDetails("INVALID_USAGE", e.Error(), e.Suggestion, nil)
}

// PreflightError means the operation was refused before any step ran.
type PreflightError struct {
	Code       string
	Message    string
	Suggestion string
	Underlying error
}

func (e *PreflightError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(e.Code, "_", " "))
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PreflightError) Unwrap() error {
	return e.Underlying
}

// Is compares error codes.
func (e *PreflightError) Is(target error) bool {
	if t, ok := target.(*PreflightError); ok {
		return e.Code == t.Code
	}
	return false
}

// Format returns a fully formatted error with all details.
func (e *PreflightError) Format() string {
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}
	return formatDetails(e.Code, msg, e.Suggestion, e.Underlying)
}

// StepExecutionError is the failure of a step's forward action.
type StepExecutionError struct {
	Step      string
	Phase     int
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q (phase %d) failed: %s", e.Step, e.Phase, causeText(e.Message, e.Cause))
}

// Unwrap returns the cause.
func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// RollbackError is the failure of a step's reverse action.
type RollbackError struct {
	Step      string
	Phase     int
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of step %q (phase %d) failed: %s", e.Step, e.Phase, causeText(e.Message, e.Cause))
}

// Unwrap returns the cause.
func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// StateCorruptionError means persisted state cannot be trusted.
type StateCorruptionError struct {
	Path       string
	Underlying error
}

func (e *StateCorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("install state at %s is corrupt: %v", e.Path, e.Underlying)
	}
	return fmt.Sprintf("install state is corrupt: %v", e.Underlying)
}

// Unwrap returns the underlying error.
func (e *StateCorruptionError) Unwrap() error {
	return e.Underlying
}

// Format returns a fully formatted error with all details.
func (e *StateCorruptionError) Format() string {
	return formatDetails("STATE_CORRUPT", e.Error(),
		"Inspect the state file. Remove it only once the host has been cleaned up by hand.", nil)
}

// Report carries the primary failure of a run together with every rollback
// failure. errors.Is and errors.As reach all members.
type Report struct {
	Primary  error
	Rollback []*RollbackError
}

func (r *Report) Error() string {
	var parts []string
	if r.Primary != nil {
		parts = append(parts, r.Primary.Error())
	}
	switch len(r.Rollback) {
	case 0:
	case 1:
		parts = append(parts, r.Rollback[0].Error())
	default:
		msgs := make([]string, len(r.Rollback))
		for i, rb := range r.Rollback {
			msgs[i] = rb.Error()
		}
		parts = append(parts, fmt.Sprintf("%d rollback failures: %s", len(r.Rollback), strings.Join(msgs, "; ")))
	}
	return strings.Join(parts, "; ")
}

// Unwrap returns the primary error followed by the rollback errors.
func (r *Report) Unwrap() []error {
	errs := make([]error, 0, len(r.Rollback)+1)
	if r.Primary != nil {
		errs = append(errs, r.Primary)
	}
	for _, rb := range r.Rollback {
		errs = append(errs, rb)
	}
	return errs
}

// newReport returns primary alone when there is nothing to aggregate.
func newReport(primary error, rollback []*RollbackError) error {
	if len(rollback) == 0 {
		return primary
	}
	return &Report{Primary: primary, Rollback: rollback}
}

// RollbackErrors extracts the rollback failures from err.
func RollbackErrors(err error) []*RollbackError {
	var report *Report
	if errors.As(err, &report) {
		return report.Rollback
	}
	var rb *RollbackError
	if errors.As(err, &rb) {
		return []*RollbackError{rb}
	}
	return nil
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		validation *ValidationError
		corruption *StateCorruptionError
		preflight  *PreflightError
		execution  *StepExecutionError
		rollback   *RollbackError
	)
	switch {
	case errors.As(err, &validation):
		return ExitValidation
	case errors.As(err, &corruption):
		return ExitStateCorruption
	case errors.As(err, &preflight):
		return ExitPreflight
	case errors.As(err, &execution):
		return ExitStepExecution
	case errors.As(err, &rollback):
		return ExitRollback
	default:
		return ExitInternal
	}
}

func causeText(message string, cause error) string {
	switch {
	case message != "" && cause != nil && message != cause.Error():
		return fmt.Sprintf("%s: %v", message, cause)
	case cause != nil:
		return cause.Error()
	case message != "":
		return message
	default:
		return "unknown error"
	}
}

func formatDetails(code, message, suggestion string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", code, message)
	if suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", suggestion)
	}
	if cause != nil {
		fmt.Fprintf(&b, "\n  Cause: %s", cause.Error())
	}
	return b.String()
}
