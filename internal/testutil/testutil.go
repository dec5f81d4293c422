// Package testutil provides shared helpers for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/driftwatch/driftwatch/internal/mirror"
)

// NewTestMirror opens a mirror database in a temp directory, migrated and
// ready to use. It is closed automatically when the test finishes.
func NewTestMirror(t *testing.T) *mirror.Mirror {
	t.Helper()

	m, err := mirror.Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// NewTestLogger creates a logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
