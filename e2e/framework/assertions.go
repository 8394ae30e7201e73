//go:build e2e

package framework

import (
	"slices"
	"strings"
	"testing"
)

// Assertions provides common assertion helpers for E2E tests.

// AssertSuccess asserts that the command succeeded.
func AssertSuccess(t *testing.T, r *Result) {
	t.Helper()
	if !r.Success() {
		t.Errorf("Expected command to succeed, got exit code %d\nStdout: %s\nStderr: %s",
			r.ExitCode, r.Stdout, r.Stderr)
	}
}

// AssertExitCode asserts the expected exit code.
func AssertExitCode(t *testing.T, r *Result, expected int) {
	t.Helper()
	if r.ExitCode != expected {
		t.Errorf("Expected exit code %d, got %d\nStdout: %s\nStderr: %s",
			expected, r.ExitCode, r.Stdout, r.Stderr)
	}
}

// AssertStdoutContains asserts that stdout contains the expected substring.
func AssertStdoutContains(t *testing.T, r *Result, expected string) {
	t.Helper()
	if !strings.Contains(r.Stdout, expected) {
		t.Errorf("Expected stdout to contain %q, but got:\n%s", expected, r.Stdout)
	}
}

// AssertStderrContains asserts that stderr contains the expected substring.
func AssertStderrContains(t *testing.T, r *Result, expected string) {
	t.Helper()
	if !strings.Contains(r.Stderr, expected) {
		t.Errorf("Expected stderr to contain %q, but got:\n%s", expected, r.Stderr)
	}
}

// AssertTrace asserts the exact sequence of hook invocations.
func AssertTrace(t *testing.T, env *Environment, expected ...string) {
	t.Helper()
	if got := env.Trace(); !slices.Equal(got, expected) {
		t.Errorf("Expected hook trace\n  %s\ngot\n  %s",
			strings.Join(expected, "\n  "), strings.Join(got, "\n  "))
	}
}

// AssertMarkerSeen asserts that a teardown hook received the marker
// variable.
func AssertMarkerSeen(t *testing.T, env *Environment, variable string) {
	t.Helper()
	if !slices.Contains(env.Markers(), variable) {
		t.Errorf("Expected a teardown hook to receive %s, got:\n%s",
			variable, strings.Join(env.Markers(), "\n"))
	}
}

// AssertFileExists asserts that a file exists in the environment.
func AssertFileExists(t *testing.T, env *Environment, path string) {
	t.Helper()
	if !env.FileExists(path) {
		t.Errorf("Expected file %s to exist", path)
	}
}

// AssertFileNotExists asserts that a file does not exist in the environment.
func AssertFileNotExists(t *testing.T, env *Environment, path string) {
	t.Helper()
	if env.FileExists(path) {
		t.Errorf("Expected file %s to not exist", path)
	}
}
