package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/adapters/statefile"
	"github.com/felixgeelhaar/replica-install/internal/cli"
	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"github.com/felixgeelhaar/replica-install/internal/steps"
	"github.com/felixgeelhaar/replica-install/internal/testutil"
	"github.com/felixgeelhaar/replica-install/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var configureCalls = []string{"ConfigureDirectory", "ConfigureAuthService", "ConfigureCA", "ConfigureProxy"}

type harness struct {
	app     *app
	svc     *mocks.Service
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	config  string
	replica string
	state   string
	logFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		svc:     &mocks.Service{},
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		config:  testutil.WriteTempFile(t, dir, "default.conf", ""),
		replica: testutil.WriteFixtureToDir(t, dir, "replica.yaml", "replica.yaml"),
		state:   filepath.Join(dir, "state"),
		logFile: filepath.Join(dir, "log", "replica-install.log"),
	}
	h.app = newApp(h.stdout, h.stderr)
	h.app.newPrompter = func(context.Context) cli.Prompter { return nil }
	h.app.newServices = func(*cli.Params) (steps.Services, error) {
		return steps.Services{Directory: h.svc, AuthService: h.svc, CA: h.svc, Proxy: h.svc}, nil
	}
	h.svc.On("Check", mock.Anything, mock.Anything).Return(nil).Maybe()
	return h
}

func (h *harness) expect(method string, err error) {
	h.svc.On(method, mock.Anything, mock.Anything).Return(err).Maybe()
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	base := []string{"--config", h.config, "--state-dir", h.state, "--log-file", h.logFile}
	return run(context.Background(), h.app, append(base, args...))
}

func (h *harness) install() int {
	return h.run("-U", "-p", "Secret123", h.replica)
}

func (h *harness) loadState(t *testing.T) *state.InstallState {
	t.Helper()

	st, err := statefile.New(h.state).Load(context.Background())
	require.NoError(t, err)
	return st
}

func TestRun_Install(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}

	require.Equal(t, install.ExitOK, h.install(), h.stderr.String())

	out := h.stdout.String()
	assert.Contains(t, out, "install completed")
	for _, name := range []string{steps.NameDirectory, steps.NameAuthService, steps.NameCA, steps.NameProxy} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, h.stderr.String(), "Error:")

	st := h.loadState(t)
	assert.Equal(t, state.StatusInstalled, st.Status)
	assert.Len(t, st.CompletedSteps, 4)
	assert.Equal(t, "ipa2.example.test", st.Host)

	assert.FileExists(t, h.logFile)
	events, err := audit.ReadJournal(audit.JournalPath(h.logFile), audit.QueryFilter{})
	require.NoError(t, err)
	assert.True(t, audit.Summarize(events).Success)
	assert.Equal(t, -1, audit.VerifyChain(events))

	h.svc.AssertNumberOfCalls(t, "ConfigureCA", 1)
}

func TestRun_FailureRollsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.expect("ConfigureDirectory", nil)
	h.expect("ConfigureAuthService", nil)
	h.expect("ConfigureCA", errors.New("certmonger unavailable"))
	h.expect("TeardownAuthService", nil)
	h.expect("TeardownDirectory", nil)

	assert.Equal(t, install.ExitStepExecution, h.install())

	h.svc.AssertNotCalled(t, "ConfigureProxy", mock.Anything, mock.Anything)
	h.svc.AssertNotCalled(t, "TeardownCA", mock.Anything, mock.Anything)
	h.svc.AssertCalled(t, "TeardownAuthService", mock.Anything, mock.Anything)
	h.svc.AssertCalled(t, "TeardownDirectory", mock.Anything, mock.Anything)

	assert.Contains(t, h.stdout.String(), "failed, changes rolled back")
	assert.Contains(t, h.stdout.String(), "See "+h.logFile)
	assert.NotContains(t, h.stdout.String(), "Manual cleanup")
	assert.Contains(t, h.stderr.String(), "Error:")
	assert.Contains(t, h.stderr.String(), "certmonger unavailable")

	// A clean rollback leaves the host installable.
	h.svc.ExpectedCalls = nil
	h.svc.On("Check", mock.Anything, mock.Anything).Return(nil).Maybe()
	for _, m := range configureCalls {
		h.expect(m, nil)
	}
	assert.Equal(t, install.ExitOK, h.install(), h.stderr.String())
}

func TestRun_RollbackFailureNeedsCleanup(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.expect("ConfigureDirectory", nil)
	h.expect("ConfigureAuthService", nil)
	h.expect("ConfigureCA", errors.New("boom"))
	h.expect("TeardownAuthService", errors.New("kdc still running"))
	h.expect("TeardownDirectory", nil)

	assert.Equal(t, install.ExitStepExecution, h.install())

	out := h.stdout.String()
	assert.Contains(t, out, "rollback incomplete")
	assert.Contains(t, out, "Manual cleanup may be required for:")
	assert.Contains(t, out, "  - "+steps.NameAuthService)
	assert.Contains(t, out, "--uninstall")
	h.svc.AssertCalled(t, "TeardownDirectory", mock.Anything, mock.Anything)
}

func TestRun_SecondInstallConflicts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}

	require.Equal(t, install.ExitOK, h.install())
	assert.Equal(t, install.ExitPreflight, h.install())
	assert.Contains(t, h.stderr.String(), "[ALREADY_INSTALLED]")
	h.svc.AssertNumberOfCalls(t, "ConfigureDirectory", 1)
}

func TestRun_Uninstall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}
	for _, m := range []string{"TeardownProxy", "TeardownCA", "TeardownAuthService", "TeardownDirectory"} {
		h.expect(m, nil)
	}

	require.Equal(t, install.ExitOK, h.install())
	require.Equal(t, install.ExitOK, h.run("--uninstall"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "uninstall completed")

	st := h.loadState(t)
	assert.Equal(t, state.StatusUninstalled, st.Status)
	assert.False(t, st.Active())
	h.svc.AssertNumberOfCalls(t, "TeardownCA", 1)

	assert.Equal(t, install.ExitOK, h.install(), "host is installable again")
}

func TestRun_PreflightRefusals(t *testing.T) {
	t.Parallel()

	t.Run("nothing installed", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		assert.Equal(t, install.ExitPreflight, h.run("--uninstall"))
		assert.Contains(t, h.stderr.String(), "[NOTHING_INSTALLED]")
	})

	t.Run("nothing to resume", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		assert.Equal(t, install.ExitPreflight, h.run("--resume", "-U", "-p", "x"))
		assert.Contains(t, h.stderr.String(), "[NOTHING_TO_RESUME]")
	})

	t.Run("precheck failure", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.svc.ExpectedCalls = nil
		h.svc.On("Check", mock.Anything, mock.Anything).Return(errors.New("hook missing"))

		assert.Equal(t, install.ExitPreflight, h.install())
		for _, m := range configureCalls {
			h.svc.AssertNotCalled(t, m, mock.Anything, mock.Anything)
		}
		assert.NoFileExists(t, filepath.Join(h.state, statefile.StateFileName))
	})
}

func TestRun_CorruptState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.state, 0o750))
	testutil.WriteTempFile(t, h.state, statefile.StateFileName, "status: installed\ncompleted_steps: [")

	assert.Equal(t, install.ExitStateCorruption, h.install())
	assert.Contains(t, h.stderr.String(), "[STATE_CORRUPT]")
	for _, m := range configureCalls {
		h.svc.AssertNotCalled(t, m, mock.Anything, mock.Anything)
	}
}

func TestRun_InvalidUsage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing replica file", []string{"-U", "-p", "x"}},
		{"unknown flag", []string{"--frobnicate"}},
		{"bad timeout", []string{"--step-timeout", "soon"}},
		{"uninstall with resume", []string{"--uninstall", "--resume"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			assert.Equal(t, install.ExitValidation, h.run(tt.args...))
			assert.Contains(t, h.stderr.String(), "[INVALID_USAGE]")
			assert.NoDirExists(t, h.state)
			assert.NoFileExists(t, h.logFile)
		})
	}
}

func TestRun_ServicesError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.app.newServices = func(*cli.Params) (steps.Services, error) {
		return steps.Services{}, install.NewValidationError(cli.KeyConfig, "invalid [hooks] section")
	}

	assert.Equal(t, install.ExitValidation, h.install())
	assert.Contains(t, h.stderr.String(), "invalid [hooks] section")
	assert.NoDirExists(t, h.state)
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, m := range configureCalls {
		h.expect(m, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := run(ctx, h.app, []string{"--config", h.config, "--state-dir", h.state, "--log-file", h.logFile, "-U", "-p", "x", h.replica})
	assert.NotEqual(t, install.ExitOK, code)
	h.svc.AssertNotCalled(t, "ConfigureDirectory", mock.Anything, mock.Anything)
}

func TestHookServices(t *testing.T) {
	t.Parallel()

	svc, err := hookServices(&cli.Params{Hooks: map[string]string{}})
	require.NoError(t, err)
	_, err = steps.Catalog(svc)
	require.NoError(t, err)

	_, err = hookServices(&cli.Params{Hooks: map[string]string{"mail.configure": "/bin/true"}})
	require.Error(t, err)
	assert.Equal(t, install.ExitValidation, install.ExitCode(err))
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	plain := errors.New("disk full")
	assert.Equal(t, "disk full", formatError(plain, false))

	ve := install.NewValidationError("--password", "is required").WithSuggestion("Pass --password.")
	msg := formatError(ve, false)
	assert.Contains(t, msg, "[INVALID_USAGE] --password: is required")
	assert.Contains(t, msg, "Suggestion: Pass --password.")

	wrapped := errors.Join(errors.New("outer"), &install.PreflightError{Code: install.ErrCodeLockHeld, Message: "lock held"})
	assert.NotContains(t, formatError(wrapped, false), "Technical details")
	assert.Contains(t, formatError(wrapped, true), "Technical details")

	var buf bytes.Buffer
	printErrorTo(&buf, plain, false)
	assert.Equal(t, "Error: disk full\n", buf.String())
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), newApp(&stdout, &stderr), []string{"version"})
	require.Equal(t, install.ExitOK, code)
	assert.Contains(t, stdout.String(), "replica-install dev")
	assert.Contains(t, stdout.String(), "commit: none")
}
