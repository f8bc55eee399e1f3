// Package fp computes stable fingerprints over a task's (source, destination)
// pair, used to spot duplicate tasks within one batch and to key idempotent
// history-store inserts.
package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// NormalizeURL trims surrounding whitespace. Further normalization rules
// (e.g. query-parameter canonicalization) can be added later as needed.
func NormalizeURL(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeSavePath trims whitespace and cleans the path using filepath.Clean.
// Note: on Unix (case-sensitive) we do not lowercase paths. If Windows
// support is added later, case normalization can be applied conditionally.
func NormalizeSavePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// TaskFingerprint computes a stable hex-encoded SHA-256 over the normalized
// URL and save path. Two tasks with the same fingerprint would write to the
// same place from the same source and are considered duplicates of each other.
func TaskFingerprint(url, savePath string) string {
	nu := NormalizeURL(url)
	np := NormalizeSavePath(savePath)
	h := sha256.New()
	// NUL cannot appear in either normalized input, so it is an unambiguous separator.
	h.Write([]byte(nu))
	h.Write([]byte{0})
	h.Write([]byte(np))
	return hex.EncodeToString(h.Sum(nil))
}

// OutcomeFingerprint extends TaskFingerprint with the task id, so that a
// history-store row for one terminal outcome of one task is idempotent even
// across process restarts, without colliding with a different task that
// happens to share a (url, save_path) pair.
func OutcomeFingerprint(taskID, url, savePath string) string {
	return TaskFingerprint(url, savePath) + ":" + strings.TrimSpace(taskID)
}
