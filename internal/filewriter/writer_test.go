package filewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tthsd/tthsd/internal/downloadcfg"
)

func TestOpenPreallocatesAndWriteAtIsPositional(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	w, err := Open(path, 10, downloadcfg.CollisionError)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := w.WriteAt([]byte("hello"), 5); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := w.WriteAt([]byte("AAAAA"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "AAAAAhello" {
		t.Fatalf("got %q", got)
	}
	info, _ := os.Stat(path)
	if info.Size() != 10 {
		t.Fatalf("expected preallocated size 10, got %d", info.Size())
	}
}

func TestOpenCollisionError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := Open(path, 10, downloadcfg.CollisionError)
	if err == nil {
		t.Fatalf("expected error on existing target under CollisionError")
	}
}

func TestOpenCollisionRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := Open(path, 4, downloadcfg.CollisionRename)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Finish()

	if w.Path() == path {
		t.Fatalf("expected a renamed path, got the original %q", w.Path())
	}
}

func TestAbandonKeepsPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	w, err := Open(path, 100, downloadcfg.CollisionError)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.WriteAt([]byte("partial"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected partial file to be kept, stat failed: %v", err)
	}
}
