package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "docsense.log")

	w, err := NewRotatingWriter(base, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	dated := filepath.Join(dir, "docsense-"+day+".log")
	data, err := os.ReadFile(dated)
	if err != nil {
		t.Fatalf("read dated file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestRotatingWriterSymlinkResolvesFromAnyDirectory(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "docsense.log")

	w, err := NewRotatingWriter(base, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The link target must be the bare dated name, not a path, so that a
	// relative base like logs/docsense.log does not resolve to
	// logs/logs/docsense-<day>.log and dangle.
	day := time.Now().UTC().Format("2006-01-02")
	dest, err := os.Readlink(base)
	if err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}
	if dest != "docsense-"+day+".log" {
		t.Fatalf("symlink target must be the bare dated name, got %q", dest)
	}
	data, err := os.ReadFile(base)
	if err != nil {
		t.Fatalf("read through symlink: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestRotatingWriterRollsOverOnSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "docsense.log")

	w, err := NewRotatingWriter(base, 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("overflow")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	rolled := filepath.Join(dir, "docsense-"+day+"-2.log")
	data, err := os.ReadFile(rolled)
	if err != nil {
		t.Fatalf("read rolled file: %v", err)
	}
	if !strings.Contains(string(data), "overflow") {
		t.Fatalf("rolled file missing overflow write, got %q", data)
	}
}

func TestRotatingWriterDashDisablesOutput(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := w.Write([]byte("dropped")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
