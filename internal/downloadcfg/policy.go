// Package downloadcfg carries session-wide download policy that is
// orthogonal to any one protocol: what to do when a task's save path is
// already occupied.
package downloadcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CollisionPolicy defines how to handle an already-existing target file.
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// ParseCollisionPolicy converts a string to a CollisionPolicy, defaulting to
// CollisionError for anything unrecognized (the safest choice: never clobber
// or rename silently unless asked to).
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionRename:
		return CollisionRename
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

// ErrTargetExists is returned by Resolve under CollisionError when savePath
// already exists.
type ErrTargetExists struct {
	Path string
}

func (e *ErrTargetExists) Error() string {
	return fmt.Sprintf("target exists: %s", e.Path)
}

// statFunc exists to keep Resolve unit-testable without touching the real
// filesystem.
type statFunc func(string) (os.FileInfo, error)

// Resolve applies policy to savePath, returning the effective path a Task's
// file writer should preallocate and write to. Under CollisionRename it
// probes name (1).ext, name (2).ext, ... until a free path is found.
func Resolve(policy CollisionPolicy, savePath string, stat statFunc) (string, error) {
	if stat == nil {
		stat = os.Stat
	}
	if _, err := stat(savePath); err != nil {
		// Any stat error other than "doesn't exist" is treated as absent;
		// the subsequent preallocate/open call will surface the real problem.
		return savePath, nil
	}

	switch policy {
	case CollisionOverwrite:
		return savePath, nil
	case CollisionRename:
		dir := filepath.Dir(savePath)
		base := filepath.Base(savePath)
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for i := 1; ; i++ {
			candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
			if _, err := stat(candidate); err != nil {
				return candidate, nil
			}
		}
	default: // CollisionError
		return "", &ErrTargetExists{Path: savePath}
	}
}
