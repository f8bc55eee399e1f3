// Package filewriter owns the single preallocated file a Task writes into.
// Workers never share a seek position: every write goes through WriteAt at
// an absolute offset, so concurrent chunk writers need no locking between
// themselves (SPEC_FULL.md §4.5). The writer also resolves the target
// collision policy before the file is ever opened.
package filewriter

import (
	"fmt"
	"os"

	"github.com/tthsd/tthsd/internal/downloadcfg"
)

// Writer owns one Task's output file.
type Writer struct {
	f          *os.File
	path       string
	totalKnown bool
}

// Open resolves savePath against policy, creates parent directories if
// needed, preallocates to totalSize when it is known and positive (an
// unknown size — single-stream fallback before the body completes — leaves
// the file to grow as writes land), and returns a Writer ready for
// concurrent WriteAt calls.
func Open(savePath string, totalSize int64, policy downloadcfg.CollisionPolicy) (*Writer, error) {
	effective, err := downloadcfg.Resolve(policy, savePath, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve collision policy: %w", err)
	}

	flags := os.O_RDWR | os.O_CREATE
	if policy == downloadcfg.CollisionOverwrite {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(effective, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", effective, err)
	}

	w := &Writer{f: f, path: effective}
	if totalSize > 0 {
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocate %s to %d bytes: %w", effective, totalSize, err)
		}
		w.totalKnown = true
	}
	return w, nil
}

// Path returns the effective path actually being written to (after
// collision-policy resolution, e.g. a renamed path).
func (w *Writer) Path() string { return w.path }

// WriteAt writes p at absolute offset off. Safe for concurrent use by
// multiple chunk workers writing to disjoint ranges.
func (w *Writer) WriteAt(p []byte, off int64) (int, error) {
	return w.f.WriteAt(p, off)
}

// Grow extends the file to totalSize once the real size becomes known after
// a single-stream fallback determines it mid-flight. A no-op if the total
// was already known at Open time.
func (w *Writer) Grow(totalSize int64) error {
	if w.totalKnown {
		return nil
	}
	if err := w.f.Truncate(totalSize); err != nil {
		return fmt.Errorf("grow %s to %d bytes: %w", w.path, totalSize, err)
	}
	w.totalKnown = true
	return nil
}

// Finish fsyncs and closes the file, as required on Task completion.
func (w *Writer) Finish() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("fsync %s: %w", w.path, err)
	}
	return w.f.Close()
}

// Abandon closes the file without fsync, keeping whatever partial bytes are
// already on disk (Task failure keeps the partial file per §4.5 — no
// automatic deletion).
func (w *Writer) Abandon() error {
	return w.f.Close()
}
