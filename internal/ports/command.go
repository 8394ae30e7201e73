// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"strings"
)

// Command describes a process invocation.
type Command struct {
	Name string
	Args []string
	// Env entries ("KEY=value") appended to the inherited environment.
	Env []string
}

// String renders the command line for logs. Env is never included.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandResult represents the result of executing a command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner executes commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}
