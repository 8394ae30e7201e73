// Package command provides command execution adapters.
package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/replica-install/internal/ports"
)

// RealRunner executes actual processes.
type RealRunner struct{}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

// Run executes a command and returns the result. A non-zero exit status is
// reported through CommandResult.ExitCode, not as an error. Cancelling ctx
// kills the process.
func (r *RealRunner) Run(ctx context.Context, c ports.Command) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ports.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = -1
			return result, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// Ensure RealRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*RealRunner)(nil)
