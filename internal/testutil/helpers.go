// Package testutil provides test helpers and utilities for replica-install tests.
package testutil

import (
	"embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

//go:embed fixtures/*
var fixturesFS embed.FS

// WriteTempFile writes content to a file in the specified directory.
func WriteTempFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp file: %s", filename)

	return path
}

// LoadFixture loads a fixture file from the embedded fixtures directory.
func LoadFixture(t *testing.T, name string) []byte {
	t.Helper()

	content, err := fixturesFS.ReadFile("fixtures/" + name)
	require.NoError(t, err, "failed to load fixture: %s", name)

	return content
}

// WriteFixtureToDir writes a fixture file to a directory.
func WriteFixtureToDir(t *testing.T, dir, fixtureName, destName string) string {
	t.Helper()

	return WriteTempFile(t, dir, destName, string(LoadFixture(t, fixtureName)))
}

// ReplicaFile writes the YAML replica descriptor fixture into a temp dir.
func ReplicaFile(t *testing.T) string {
	t.Helper()

	return WriteFixtureToDir(t, t.TempDir(), "replica.yaml", "replica.yaml")
}
