//go:build e2e

package framework

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

// Result represents the result of running a command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Success returns true if the command exited with code 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// Contains checks if stdout contains the given substring.
func (r *Result) Contains(s string) bool {
	return strings.Contains(r.Stdout, s)
}

// StderrContains checks if stderr contains the given substring.
func (r *Result) StderrContains(s string) bool {
	return strings.Contains(r.Stderr, s)
}

// Runner executes replica-install commands in a test environment.
type Runner struct {
	t   *testing.T
	env *Environment
}

// NewRunner creates a new command runner.
func NewRunner(t *testing.T, env *Environment) *Runner {
	return &Runner{
		t:   t,
		env: env,
	}
}

// Run executes replica-install with the given arguments.
func (r *Runner) Run(args ...string) *Result {
	r.t.Helper()

	cmd := exec.Command(r.env.BinaryPath(), args...)
	cmd.Dir = r.env.RootDir()
	cmd.Env = []string{
		"HOME=" + r.env.RootDir(),
		"PATH=/usr/bin:/bin",
		"REPLICA_E2E_ROOT=" + r.env.RootDir(),
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		result.Err = nil // Exit code is not an error
	} else if err != nil {
		result.ExitCode = -1
	}

	return result
}

func (r *Runner) installArgs(extra ...string) []string {
	return append([]string{
		"--config", r.env.ConfigFile(),
		"--state-dir", r.env.StateDir(),
		"--log-file", r.env.LogFile(),
		"--password", "Secret123",
	}, extra...)
}

// Version runs the version command.
func (r *Runner) Version() *Result {
	return r.Run("version")
}

// Install installs from the environment's replica descriptor.
func (r *Runner) Install() *Result {
	return r.Run(r.installArgs(r.env.ReplicaFile())...)
}

// Resume continues an interrupted install.
func (r *Runner) Resume() *Result {
	return r.Run(r.installArgs("--resume")...)
}

// Uninstall removes what earlier runs configured.
func (r *Runner) Uninstall() *Result {
	return r.Run("--config", r.env.ConfigFile(), "--state-dir", r.env.StateDir(), "--log-file", r.env.LogFile(), "--uninstall")
}

// Status prints the recorded state.
func (r *Runner) Status() *Result {
	return r.Run("status", "--state-dir", r.env.StateDir(), "--log-file", r.env.LogFile())
}

// Scenario provides a fluent interface for writing BDD-style tests.
type Scenario struct {
	t      *testing.T
	env    *Environment
	runner *Runner
	result *Result
}

// NewScenario creates a new test scenario.
func NewScenario(t *testing.T) *Scenario {
	env := NewEnvironment(t)
	return &Scenario{
		t:      t,
		env:    env,
		runner: NewRunner(t, env),
	}
}

// Given sets up the test preconditions.
func (s *Scenario) Given(description string, setup func(*Environment, *Runner)) *Scenario {
	s.t.Helper()
	s.t.Logf("Given %s", description)
	setup(s.env, s.runner)
	return s
}

// When executes the action under test.
func (s *Scenario) When(description string, action func(*Runner) *Result) *Scenario {
	s.t.Helper()
	s.t.Logf("When %s", description)
	s.result = action(s.runner)
	return s
}

// Then asserts the expected outcome.
func (s *Scenario) Then(description string, assertion func(*testing.T, *Environment, *Result)) *Scenario {
	s.t.Helper()
	s.t.Logf("Then %s", description)
	assertion(s.t, s.env, s.result)
	return s
}

// And is an alias for Then for chaining assertions.
func (s *Scenario) And(description string, assertion func(*testing.T, *Environment, *Result)) *Scenario {
	return s.Then(description, assertion)
}

// Environment returns the test environment for direct access.
func (s *Scenario) Environment() *Environment {
	return s.env
}

// Result returns the last command result.
func (s *Scenario) Result() *Result {
	return s.result
}
