package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"github.com/felixgeelhaar/replica-install/internal/domain/step"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	nameStyle    = lipgloss.NewStyle().Width(24)
)

// printResult writes the summary of a run: one line per step, the steps
// that need manual cleanup and where to find the details.
func printResult(w io.Writer, r *install.Result, logFile string) {
	if r == nil {
		return
	}

	header := fmt.Sprintf("%s %s", r.Operation, outcomeText(r))
	if r.Success() {
		header = successStyle.Render("✓ " + header)
	} else {
		header = errorStyle.Render("✗ " + header)
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", header, mutedStyle.Render(fmt.Sprintf("(run %s, %s)", r.RunID, roundDuration(r.Duration()))))

	for _, s := range r.Steps {
		_, _ = fmt.Fprintf(w, "  %s\n", stepLine(s))
	}

	if cleanup := r.ManualCleanup(); len(cleanup) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, warningStyle.Render("Manual cleanup may be required for:"))
		for _, name := range cleanup {
			_, _ = fmt.Fprintf(w, "  - %s\n", name)
		}
		if r.Operation != install.OperationUninstall || !r.Success() {
			_, _ = fmt.Fprintln(w, `Clean up the host, then run "replica-install --uninstall" before installing again.`)
		}
	}

	if !r.Success() && logFile != "" {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("See "+logFile+" for details."))
	}
}

func outcomeText(r *install.Result) string {
	switch {
	case r.Success():
		return "completed"
	case len(install.RollbackErrors(r.Err)) > 0:
		return "failed, rollback incomplete"
	case len(r.RolledBack) > 0:
		return "failed, changes rolled back"
	default:
		return "failed"
	}
}

func stepLine(s install.StepReport) string {
	name := nameStyle.Render(s.Name)
	switch {
	case s.Skipped && s.Status == step.StatusDone:
		return mutedStyle.Render("- "+name) + " " + mutedStyle.Render("already done")
	case s.Status == step.StatusDone:
		return successStyle.Render("✓ "+name) + " " + detail("done", s)
	case s.Status == step.StatusRolledBack:
		return warningStyle.Render("↺ "+name) + " " + detail("rolled back", s)
	case s.Status == step.StatusFailed:
		return errorStyle.Render("✗ "+name) + " " + detail("failed", s)
	default:
		return mutedStyle.Render("  "+name) + " " + mutedStyle.Render(string(s.Status))
	}
}

func detail(label string, s install.StepReport) string {
	parts := []string{label}
	if s.Message != "" {
		parts = append(parts, s.Message)
	}
	if s.Duration > 0 {
		parts = append(parts, roundDuration(s.Duration).String())
	}
	return strings.Join(parts, ", ")
}

func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}

// printState writes the persisted install state.
func printState(w io.Writer, st *state.InstallState, path string) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Install state"))
	_, _ = fmt.Fprintf(w, "  file:    %s\n", path)
	_, _ = fmt.Fprintf(w, "  status:  %s\n", install.Describe(st))
	if st == nil {
		return
	}

	_, _ = fmt.Fprintf(w, "  run:     %s\n", st.RunID)
	if st.Host != "" {
		_, _ = fmt.Fprintf(w, "  host:    %s\n", st.Host)
	}
	_, _ = fmt.Fprintf(w, "  updated: %s\n", st.UpdatedAt.Format(time.RFC3339))

	if len(st.CompletedSteps) > 0 {
		_, _ = fmt.Fprintln(w, "  steps:")
		for _, rec := range st.CompletedSteps {
			_, _ = fmt.Fprintf(w, "    %s %s %s\n", nameStyle.Render(rec.Name), statusStyle(rec.Status).Render(string(rec.Status)),
				mutedStyle.Render(rec.Timestamp.Format(time.RFC3339)))
		}
	}
	if st.InFlight != nil {
		_, _ = fmt.Fprintf(w, "  %s %s\n", warningStyle.Render("in flight:"), st.InFlight.Name)
	}
	if st.Failure != nil {
		_, _ = fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("last failure:"), st.Failure.Step, st.Failure.Message)
	}
}

// printRunSummary writes what the journal recorded for one run.
func printChainWarning(w io.Writer, path string, index int) {
	_, _ = fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("Journal integrity check failed at entry %d of %s", index+1, path)))
	_, _ = fmt.Fprintln(w, mutedStyle.Render("  Entries from there on may have been edited or lost."))
}

func printRunSummary(w io.Writer, s audit.Summary) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Last run"))
	_, _ = fmt.Fprintf(w, "  run:       %s (%s)\n", s.RunID, s.Operation)
	if !s.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "  started:   %s\n", s.StartedAt.Format(time.RFC3339))
	}
	if s.FinishedAt.IsZero() {
		_, _ = fmt.Fprintln(w, "  outcome:   "+warningStyle.Render("unfinished"))
	} else if s.Success {
		_, _ = fmt.Fprintln(w, "  outcome:   "+successStyle.Render("succeeded"))
	} else {
		_, _ = fmt.Fprintln(w, "  outcome:   "+errorStyle.Render("failed"))
	}

	for _, line := range []struct {
		label string
		names []string
	}{
		{"done", s.Done},
		{"failed", s.Failed},
		{"rolled back", s.RolledBack},
		{"needs cleanup", s.RollbackFailed},
	} {
		if len(line.names) > 0 {
			_, _ = fmt.Fprintf(w, "  %-14s %s\n", line.label+":", strings.Join(line.names, ", "))
		}
	}
}

func statusStyle(s step.Status) lipgloss.Style {
	switch s {
	case step.StatusDone:
		return successStyle
	case step.StatusRolledBack:
		return warningStyle
	case step.StatusFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}
