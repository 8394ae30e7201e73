package mocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRunner_AddResult(t *testing.T) {
	t.Parallel()

	runner := NewCommandRunner()
	runner.AddResult("/usr/sbin/ca-setup", []string{"configure"}, ports.CommandResult{Stdout: "ok"})

	result, err := runner.Run(context.Background(), ports.Command{Name: "/usr/sbin/ca-setup", Args: []string{"configure"}, Env: []string{"A=1"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"A=1"}, calls[0].Env)
}

func TestCommandRunner_AddError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	runner := NewCommandRunner()
	runner.AddError("proxy-setup", nil, boom)

	_, err := runner.Run(context.Background(), ports.Command{Name: "proxy-setup"})
	assert.ErrorIs(t, err, boom)
}

func TestCommandRunner_NotFound(t *testing.T) {
	t.Parallel()

	_, err := NewCommandRunner().Run(context.Background(), ports.Command{Name: "unknown", Args: []string{"command"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestCommandRunner_Reset(t *testing.T) {
	t.Parallel()

	runner := NewCommandRunner()
	runner.AddResult("x", nil, ports.CommandResult{})
	_, _ = runner.Run(context.Background(), ports.Command{Name: "x"})
	runner.Reset()

	assert.Empty(t, runner.Calls())
	_, err := runner.Run(context.Background(), ports.Command{Name: "x"})
	assert.Error(t, err)
}

func TestCommandRunner_Concurrent(t *testing.T) {
	t.Parallel()

	runner := NewCommandRunner()
	runner.AddResult("x", nil, ports.CommandResult{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = runner.Run(context.Background(), ports.Command{Name: "x"})
		}()
	}
	wg.Wait()
	assert.Len(t, runner.Calls(), 20)
}
