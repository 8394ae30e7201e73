package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/adapters/statefile"
	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/steps"
	"github.com/felixgeelhaar/replica-install/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) status() int {
	h.stdout.Reset()
	h.stderr.Reset()
	return run(context.Background(), h.app, []string{"status", "--state-dir", h.state, "--log-file", h.logFile})
}

func TestStatus_NotInstalled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, install.ExitOK, h.status())

	out := h.stdout.String()
	assert.Contains(t, out, "Install state")
	assert.Contains(t, out, "not installed")
	assert.NotContains(t, out, "Last run")
	assert.NoDirExists(t, h.state, "status must not create anything")
}

func TestStatus_AfterInstall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}
	require.Equal(t, install.ExitOK, h.install())

	require.Equal(t, install.ExitOK, h.status(), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "installed (4 recorded)")
	assert.Contains(t, out, filepath.Join(h.state, statefile.StateFileName))
	assert.Contains(t, out, "ipa2.example.test")
	assert.Contains(t, out, steps.NameProxy)
	assert.Contains(t, out, "Last run")
	assert.Contains(t, out, "succeeded")
}

func TestStatus_AfterFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.expect("ConfigureDirectory", nil)
	h.expect("ConfigureAuthService", assert.AnError)
	h.expect("TeardownDirectory", nil)
	require.Equal(t, install.ExitStepExecution, h.install())

	require.Equal(t, install.ExitOK, h.status())
	out := h.stdout.String()
	assert.Contains(t, out, "last failure:")
	assert.Contains(t, out, steps.NameAuthService)
	assert.Contains(t, out, "rolled back:")
	assert.Contains(t, out, "failed")
}

func TestStatus_TamperedJournal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}
	require.Equal(t, install.ExitOK, h.install())

	require.Equal(t, install.ExitOK, h.status())
	assert.NotContains(t, h.stdout.String(), "integrity")

	path := audit.JournalPath(h.logFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Greater(t, len(lines), 2)

	var e audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	e.Message = "edited by hand"
	edited, err := json.Marshal(e)
	require.NoError(t, err)
	lines[1] = string(edited)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	require.Equal(t, install.ExitOK, h.status())
	out := h.stdout.String()
	assert.Contains(t, out, "Journal integrity check failed at entry 2")
	assert.Contains(t, out, "Last run", "the summary is still shown")
}

func TestStatus_Corrupt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.state, 0o750))
	testutil.WriteTempFile(t, h.state, statefile.StateFileName, "{{{")

	assert.Equal(t, install.ExitStateCorruption, h.status())
	assert.Contains(t, h.stderr.String(), "[STATE_CORRUPT]")
}

func TestStatus_RejectsArguments(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), newApp(&stdout, &stderr), []string{"status", "extra"})
	assert.Equal(t, install.ExitValidation, code)
	assert.Contains(t, stderr.String(), "takes no arguments")
}
