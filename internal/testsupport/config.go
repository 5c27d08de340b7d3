// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// NewConfig returns a validated configuration rooted in a fresh temp
// directory, suitable for tests that touch the filesystem or databases.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.LibraryDir = filepath.Join(root, "library")
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.TrashDir = filepath.Join(root, "trash")
	cfg.LogDir = filepath.Join(root, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return &cfg
}
