package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tthsd/tthsd/internal/history"
)

// ErrRegistryMiss is the taxonomy entry for an unknown session id on a
// control operation (SPEC_FULL.md §7).
var ErrRegistryMiss = fmt.Errorf("unknown session id")

// Registry is the process-global id→Session map. All C ABI entry points
// that take an id go through one Registry, shared across the library's
// lifetime.
type Registry struct {
	mu      sync.RWMutex
	byID    map[int32]*Session
	counter atomic.Int32

	log     *slog.Logger
	history history.Recorder
}

// NewRegistry constructs an empty Registry. log and rec are shared by every
// Session the Registry creates.
func NewRegistry(log *slog.Logger, rec history.Recorder) *Registry {
	return &Registry{byID: make(map[int32]*Session), log: log, history: rec}
}

// ParseTasks validates and decodes the tasks_json C ABI argument against the
// schema in SPEC_FULL.md §6, enforcing count and per-field non-emptiness.
func ParseTasks(tasksJSON string, count int) ([]Descriptor, error) {
	var descs []Descriptor
	if err := json.Unmarshal([]byte(tasksJSON), &descs); err != nil {
		return nil, fmt.Errorf("InvalidInput: malformed tasks_json: %w", err)
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("InvalidInput: tasks_json must be a non-empty array")
	}
	if len(descs) != count {
		return nil, fmt.Errorf("InvalidInput: count %d does not match %d tasks", count, len(descs))
	}
	for i, d := range descs {
		if d.URL == "" || d.SavePath == "" {
			return nil, fmt.Errorf("InvalidInput: task %d missing url or save_path", i)
		}
	}
	return descs, nil
}

// Create registers a new Session in SessionCreated state and returns it.
// It never starts the Session; callers invoke StartSerial/StartParallel
// (or StartDownload, for start_download's own immediate-start semantics) explicitly.
func (r *Registry) Create(descs []Descriptor, opts Options) *Session {
	id := r.counter.Add(1)
	s := newSession(id, descs, opts, r.log, r.history)

	r.mu.Lock()
	r.byID[id] = s
	r.mu.Unlock()
	return s
}

// Get looks up id, returning ErrRegistryMiss when it is not currently
// registered (never registered, or already stopped and removed).
func (r *Registry) Get(id int32) (*Session, error) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRegistryMiss
	}
	return s, nil
}

// Remove drops id from the registry. Called once a Session has fully
// stopped and released its resources.
func (r *Registry) Remove(id int32) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// StartDownload implements start_download's combined create+start
// semantics: creates the Session from already-validated descriptors and
// begins it in serial mode unless isMultiple is non-nil and true, returning
// the new Session's id. Task parsing and the precondition checks that yield
// -1 happen in the caller, before StartDownload is reached.
func (r *Registry) StartDownload(descs []Descriptor, opts Options, isMultiple *bool) int32 {
	s := r.Create(descs, opts)
	if isMultiple != nil && *isMultiple {
		s.StartParallel()
	} else {
		s.StartSerial()
	}
	return s.ID()
}

// StopAndRemove stops id (if present) and removes it from the registry,
// matching "destroyed only by stop_download" (SPEC_FULL.md §3).
func (r *Registry) StopAndRemove(id int32) bool {
	s, err := r.Get(id)
	if err != nil {
		return false
	}
	s.Stop()
	r.Remove(id)
	return true
}
