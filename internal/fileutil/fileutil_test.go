package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"curator/internal/fileutil"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	content := []byte("poster bytes")
	path := writeFile(t, dir, "poster.jpg", content)

	fromFile, err := fileutil.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fromFile != fileutil.HashBytes(content) {
		t.Fatalf("hash mismatch: %s vs %s", fromFile, fileutil.HashBytes(content))
	}
	if len(fromFile) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fromFile))
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.bin", []byte("content to copy"))
	dst := filepath.Join(dir, "nested", "dst.bin")

	if err := fileutil.CopyFileVerified(src, dst); err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "content to copy" {
		t.Fatalf("unexpected dst content %q", got)
	}
}

func TestCopyFileCreatesParent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.txt", []byte("x"))
	dst := filepath.Join(dir, "deep", "path", "a.txt")

	if err := fileutil.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("stat dst: %v", err)
	}
}
