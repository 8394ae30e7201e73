// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/replica-install/internal/ports"
)

// CommandRunner is a thread-safe test double for ports.CommandRunner.
// Results are keyed on the command name and arguments; Env is recorded but
// ignored when matching.
type CommandRunner struct {
	mu      sync.RWMutex
	results map[string]ports.CommandResult
	errors  map[string]error
	calls   []ports.Command
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		results: make(map[string]ports.CommandResult),
		errors:  make(map[string]error),
	}
}

// AddResult registers an expected command and its result.
func (m *CommandRunner) AddResult(name string, args []string, result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[buildKey(name, args)] = result
}

// AddError registers an expected command that should return an error.
func (m *CommandRunner) AddError(name string, args []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[buildKey(name, args)] = err
}

// Run executes a mock command.
func (m *CommandRunner) Run(_ context.Context, cmd ports.Command) (ports.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, ports.Command{
		Name: cmd.Name,
		Args: append([]string(nil), cmd.Args...),
		Env:  append([]string(nil), cmd.Env...),
	})

	key := buildKey(cmd.Name, cmd.Args)
	if err, ok := m.errors[key]; ok {
		return ports.CommandResult{}, err
	}
	if result, ok := m.results[key]; ok {
		return result, nil
	}
	return ports.CommandResult{}, fmt.Errorf("no mock result for command: %s", cmd)
}

// Calls returns all recorded command invocations.
func (m *CommandRunner) Calls() []ports.Command {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]ports.Command, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Reset clears all registered results, errors, and recorded calls.
func (m *CommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = make(map[string]ports.CommandResult)
	m.errors = make(map[string]error)
	m.calls = nil
}

func buildKey(name string, args []string) string {
	return name + ":" + strings.Join(args, ":")
}

// Ensure CommandRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*CommandRunner)(nil)
