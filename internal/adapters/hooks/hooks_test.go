package hooks

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/felixgeelhaar/replica-install/internal/steps"
	"github.com/felixgeelhaar/replica-install/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	caHook    = "/usr/libexec/replica-install/ca"
	proxyHook = "/usr/libexec/replica-install/httpd"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg, err := ParseConfig(map[string]string{
		"ca.configure":    caHook + " configure --clone",
		"ca.teardown":     caHook + " teardown",
		"proxy.configure": proxyHook + " configure",
	})
	require.NoError(t, err)
	return cfg
}

func testContext() *step.InstallContext {
	return &step.InstallContext{
		ReplicaFile: "/root/replica.yaml",
		Replica: step.Replica{
			Realm:       "EXAMPLE.TEST",
			Domain:      "example.test",
			Master:      "ipa1.example.test",
			SubjectBase: "O=EXAMPLE.TEST",
		},
		Hostname: "ipa2.example.test",
		Password: "Secret123",
	}
}

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, e := range env {
		if k, v, ok := strings.Cut(e, "="); ok {
			out[k] = v
		}
	}
	return out
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	spec, err := ParseSpec("  /usr/bin/hook   configure  --quiet ")
	require.NoError(t, err)
	assert.Equal(t, Spec{Path: "/usr/bin/hook", Args: []string{"configure", "--quiet"}}, spec)
	assert.Equal(t, "/usr/bin/hook configure --quiet", spec.String())

	_, err = ParseSpec("   ")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	assert.Equal(t, caHook, cfg.Lookup(steps.SectionCA, ActionConfigure).Path)
	assert.Equal(t, []string{"configure", "--clone"}, cfg.Lookup(steps.SectionCA, ActionConfigure).Args)
	assert.Equal(t, []string{"teardown"}, cfg.Lookup(steps.SectionCA, ActionTeardown).Args)
	assert.True(t, cfg.Lookup(steps.SectionProxy, ActionTeardown).IsZero())
	assert.True(t, cfg.Lookup(steps.SectionDirectory, ActionConfigure).IsZero())

	_, err := ParseConfig(map[string]string{
		"kdc.configure":     "/bin/true",
		"ca.reconfigure":    "/bin/true",
		"proxy.configure":   "",
		"directory.unknown": "/bin/true",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown hook "kdc.configure"`)
	assert.Contains(t, err.Error(), `unknown hook action "reconfigure"`)
	assert.Contains(t, err.Error(), "empty hook command")
}

func TestRunner_Configure(t *testing.T) {
	t.Parallel()

	cmds := mocks.NewCommandRunner()
	cmds.AddResult(caHook, []string{"configure", "--clone"}, ports.CommandResult{
		Stdout: "cloning CA\nreplica-marker: port=8443\n  replica-marker: profile = caIPAserviceCert\nreplica-marker: broken\n",
	})
	ic := testContext()
	ic.SetMarker(steps.SectionDirectory, "instance", "EXAMPLE-TEST")

	svc := NewRunner(cmds, testConfig(t)).Services()
	require.NoError(t, svc.CA.ConfigureCA(context.Background(), ic))

	calls := cmds.Calls()
	require.Len(t, calls, 1)
	env := envMap(calls[0].Env)
	assert.Equal(t, "configure", env["REPLICA_ACTION"])
	assert.Equal(t, "EXAMPLE.TEST", env["REPLICA_REALM"])
	assert.Equal(t, "example.test", env["REPLICA_DOMAIN"])
	assert.Equal(t, "ipa1.example.test", env["REPLICA_MASTER"])
	assert.Equal(t, "ipa2.example.test", env["REPLICA_HOST"])
	assert.Equal(t, "O=EXAMPLE.TEST", env["REPLICA_SUBJECT_BASE"])
	assert.Equal(t, "Secret123", env["REPLICA_DM_PASSWORD"])
	assert.Equal(t, "false", env["REPLICA_RETRIEVE_KEY"])
	assert.Equal(t, "EXAMPLE-TEST", env["REPLICA_MARKER_DIRECTORY_INSTANCE"])

	port, ok := ic.Marker(steps.SectionCA, "port")
	require.True(t, ok)
	assert.Equal(t, "8443", port)
	profile, _ := ic.Marker(steps.SectionCA, "profile")
	assert.Equal(t, "caIPAserviceCert", profile)
	_, ok = ic.Marker(steps.SectionCA, "broken")
	assert.False(t, ok)
}

func TestRunner_TeardownOmitsPassword(t *testing.T) {
	t.Parallel()

	cmds := mocks.NewCommandRunner()
	cmds.AddResult(caHook, []string{"teardown"}, ports.CommandResult{})
	ic := testContext()
	ic.SetMarker(steps.SectionCA, "port", "8443")

	svc := NewRunner(cmds, testConfig(t)).Services()
	require.NoError(t, svc.CA.TeardownCA(context.Background(), ic))

	env := envMap(cmds.Calls()[0].Env)
	assert.Equal(t, "teardown", env["REPLICA_ACTION"])
	assert.NotContains(t, env, "REPLICA_DM_PASSWORD")
	assert.Equal(t, "8443", env["REPLICA_MARKER_CA_PORT"])
}

func TestRunner_Failures(t *testing.T) {
	t.Parallel()

	t.Run("non-zero exit", func(t *testing.T) {
		t.Parallel()

		cmds := mocks.NewCommandRunner()
		cmds.AddResult(caHook, []string{"configure", "--clone"}, ports.CommandResult{
			ExitCode: 2,
			Stderr:   "contacting master\nCA is not installed on ipa1.example.test\n",
		})
		err := NewRunner(cmds, testConfig(t)).Run(context.Background(), steps.SectionCA, ActionConfigure, testContext())
		require.EqualError(t, err, "configure hook for ca exited with status 2: CA is not installed on ipa1.example.test")
	})

	t.Run("silent non-zero exit", func(t *testing.T) {
		t.Parallel()

		cmds := mocks.NewCommandRunner()
		cmds.AddResult(caHook, []string{"teardown"}, ports.CommandResult{ExitCode: 1})
		err := NewRunner(cmds, testConfig(t)).Run(context.Background(), steps.SectionCA, ActionTeardown, testContext())
		require.EqualError(t, err, "teardown hook for ca exited with status 1")
	})

	t.Run("runner error", func(t *testing.T) {
		t.Parallel()

		cmds := mocks.NewCommandRunner()
		cmds.AddError(proxyHook, []string{"configure"}, context.DeadlineExceeded)
		err := NewRunner(cmds, testConfig(t)).Services().Proxy.ConfigureProxy(context.Background(), testContext())
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unconfigured", func(t *testing.T) {
		t.Parallel()

		cmds := mocks.NewCommandRunner()
		err := NewRunner(cmds, testConfig(t)).Services().Directory.ConfigureDirectory(context.Background(), testContext())
		require.EqualError(t, err, "no configure hook configured for directory")
		assert.Empty(t, cmds.Calls())
	})
}

func TestRunner_Check(t *testing.T) {
	t.Parallel()

	lookPath := func(path string) (string, error) {
		if path == caHook {
			return path, nil
		}
		return "", exec.ErrNotFound
	}
	r := NewRunner(mocks.NewCommandRunner(), testConfig(t), WithLookPath(lookPath))
	svc := r.Services()
	ic := testContext()

	require.NoError(t, svc.CA.(steps.Checker).Check(context.Background(), ic))

	err := svc.Proxy.(steps.Checker).Check(context.Background(), ic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
	assert.Contains(t, err.Error(), "no teardown hook configured for proxy")
}

func TestRunner_StepsIntegration(t *testing.T) {
	t.Parallel()

	cmds := mocks.NewCommandRunner()
	cmds.AddResult(caHook, []string{"configure", "--clone"}, ports.CommandResult{Stdout: "replica-marker: port=8443\n"})
	cmds.AddResult(caHook, []string{"teardown"}, ports.CommandResult{})

	list, err := steps.Catalog(NewRunner(cmds, testConfig(t)).Services())
	require.NoError(t, err)
	ca := list[2]
	require.Equal(t, steps.NameCA, ca.Name())

	ic := testContext()
	require.True(t, ca.Execute(context.Background(), ic).OK())
	_, ok := ic.Marker(steps.SectionCA, "port")
	require.True(t, ok)

	require.True(t, ca.Undo(context.Background(), ic).OK())
	_, ok = ic.Marker(steps.SectionCA, "port")
	assert.False(t, ok)
}

func TestParseMarkers(t *testing.T) {
	t.Parallel()

	got := ParseMarkers("replica-marker: a=1\nnoise\nreplica-marker: a=2\nreplica-marker: =x\nreplica-marker: url=https://h/x?y=z\n")
	assert.Equal(t, map[string]string{"a": "2", "url": "https://h/x?y=z"}, got)
	assert.Empty(t, ParseMarkers(""))
}
