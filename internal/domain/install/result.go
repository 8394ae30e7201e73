package install

import (
	"time"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
)

// Operation names what the installer was asked to do.
type Operation string

// Operations.
const (
	OperationInstall   Operation = "install"
	OperationResume    Operation = "resume"
	OperationUninstall Operation = "uninstall"
)

// StepReport is the outcome of one step within a run.
type StepReport struct {
	Name     string
	Phase    int
	Status   step.Status
	Message  string
	Duration time.Duration
	// Skipped is set for steps a resume found already done.
	Skipped bool
}

// Result summarizes a run.
type Result struct {
	RunID     string
	Operation Operation
	// Steps holds one report per declared step, in execution order.
	Steps []StepReport
	// Executed lists steps whose Execute ran in this run, in order.
	Executed []string
	// RolledBack lists steps whose Undo succeeded in this run, in order.
	RolledBack []string
	// Interrupted names a step found in flight by uninstall. Its effects
	// were never recorded and cannot be undone automatically.
	Interrupted string
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Success reports whether the operation completed.
func (r *Result) Success() bool {
	return r.Err == nil
}

// ExitCode returns the process exit code for the result.
func (r *Result) ExitCode() int {
	return ExitCode(r.Err)
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Report returns the report for name.
func (r *Result) Report(name string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepReport{}, false
}

// ManualCleanup lists steps that may have left effects on the host which
// the installer could not remove.
func (r *Result) ManualCleanup() []string {
	var names []string
	if r.Interrupted != "" {
		names = append(names, r.Interrupted)
	}
	for _, rb := range RollbackErrors(r.Err) {
		names = append(names, rb.Step)
	}
	return names
}

func (r *Result) report(name string) *StepReport {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}
