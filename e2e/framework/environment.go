//go:build e2e

// Package framework provides the E2E test infrastructure for replica-install.
package framework

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Services in step order, as named in the [hooks] section.
var Services = []string{"directory", "auth-service", "ca", "proxy"}

// hookScript records every invocation in the trace file. Trigger files
// under the fail and crash directories make an action fail or kill the
// installer while the step is in flight.
const hookScript = `#!/bin/sh
name=$(basename "$0")
echo "$name $1" >> "$REPLICA_E2E_ROOT/trace.log"
if [ -e "$REPLICA_E2E_ROOT/crash/$name.$1" ]; then
  kill -9 "$PPID"
  exit 1
fi
if [ -e "$REPLICA_E2E_ROOT/fail/$name.$1" ]; then
  echo "simulated $1 failure" >&2
  exit 1
fi
if [ "$1" = configure ]; then
  echo "replica-marker:instance=$name-$REPLICA_REALM"
else
  env | grep '^REPLICA_MARKER_' | sort >> "$REPLICA_E2E_ROOT/markers.log"
fi
`

const replicaDescriptor = `realm: EXAMPLE.TEST
domain: example.test
host: ipa2.example.test
master: ipa1.example.test
subject_base: O=EXAMPLE.TEST
`

// Environment represents an isolated test environment for E2E tests.
type Environment struct {
	t          *testing.T
	rootDir    string
	binaryPath string
}

var (
	buildOnce  sync.Once
	binaryPath string
	buildErr   error
)

// findProjectRoot locates the project root directory.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// buildBinary builds the replica-install binary once per test run.
func buildBinary(t *testing.T) (string, error) {
	buildOnce.Do(func() {
		root, err := findProjectRoot()
		if err != nil {
			buildErr = err
			return
		}

		binaryPath = filepath.Join(os.TempDir(), "replica-install-e2e-test")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/replica-install")
		cmd.Dir = root

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			buildErr = err
			t.Logf("Build stderr: %s", stderr.String())
		}
	})

	return binaryPath, buildErr
}

// NewEnvironment creates a new isolated test environment with hook scripts
// for every service, a configuration file wiring them and a replica
// descriptor.
func NewEnvironment(t *testing.T) *Environment {
	t.Helper()

	binary, err := buildBinary(t)
	if err != nil {
		t.Fatalf("Failed to build binary: %v", err)
	}

	env := &Environment{
		t:          t,
		rootDir:    t.TempDir(),
		binaryPath: binary,
	}

	var hooks strings.Builder
	hooks.WriteString("[hooks]\n")
	for _, svc := range Services {
		path := env.WriteFile(filepath.Join("hooks", svc), hookScript)
		if err := os.Chmod(path, 0o755); err != nil {
			t.Fatalf("Failed to make hook executable: %v", err)
		}
		fmt.Fprintf(&hooks, "%s.configure = %s configure\n", svc, path)
		fmt.Fprintf(&hooks, "%s.teardown = %s teardown\n", svc, path)
	}
	env.WriteFile("default.conf", "[global]\nunattended = true\n\n"+hooks.String())
	env.WriteFile("replica.yaml", replicaDescriptor)

	return env
}

// RootDir returns the path to the test root directory.
func (e *Environment) RootDir() string {
	return e.rootDir
}

// BinaryPath returns the path to the built binary.
func (e *Environment) BinaryPath() string {
	return e.binaryPath
}

// ConfigFile returns the path of the generated configuration file.
func (e *Environment) ConfigFile() string {
	return filepath.Join(e.rootDir, "default.conf")
}

// ReplicaFile returns the path of the replica descriptor.
func (e *Environment) ReplicaFile() string {
	return filepath.Join(e.rootDir, "replica.yaml")
}

// StateDir returns the installer state directory.
func (e *Environment) StateDir() string {
	return filepath.Join(e.rootDir, "state")
}

// LogFile returns the installer log file.
func (e *Environment) LogFile() string {
	return filepath.Join(e.rootDir, "log", "replica-install.log")
}

// WriteFile writes content to a file in the test environment and returns
// its full path.
func (e *Environment) WriteFile(path, content string) string {
	e.t.Helper()

	fullPath := filepath.Join(e.rootDir, path)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.t.Fatalf("Failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		e.t.Fatalf("Failed to write file %s: %v", fullPath, err)
	}
	return fullPath
}

// FailHook makes the given service action exit non-zero.
func (e *Environment) FailHook(service, action string) {
	e.t.Helper()
	e.WriteFile(filepath.Join("fail", service+"."+action), "")
}

// CrashInHook makes the given service action kill the installer.
func (e *Environment) CrashInHook(service, action string) {
	e.t.Helper()
	e.WriteFile(filepath.Join("crash", service+"."+action), "")
}

// ClearTriggers removes every failure and crash trigger and the trace.
func (e *Environment) ClearTriggers() {
	e.t.Helper()
	for _, dir := range []string{"fail", "crash"} {
		if err := os.RemoveAll(filepath.Join(e.rootDir, dir)); err != nil {
			e.t.Fatalf("Failed to remove %s: %v", dir, err)
		}
	}
	e.ResetTrace()
}

// ResetTrace forgets the recorded hook invocations.
func (e *Environment) ResetTrace() {
	e.t.Helper()
	if err := os.Remove(filepath.Join(e.rootDir, "trace.log")); err != nil && !os.IsNotExist(err) {
		e.t.Fatalf("Failed to remove trace: %v", err)
	}
}

// Trace returns the hook invocations in order, as "<service> <action>".
func (e *Environment) Trace() []string {
	return e.lines("trace.log")
}

// Markers returns the marker variables teardown hooks received.
func (e *Environment) Markers() []string {
	return e.lines("markers.log")
}

// FileExists checks if a file exists in the test environment.
func (e *Environment) FileExists(path string) bool {
	_, err := os.Stat(filepath.Join(e.rootDir, path))
	return err == nil
}

func (e *Environment) lines(name string) []string {
	data, err := os.ReadFile(filepath.Join(e.rootDir, name))
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
