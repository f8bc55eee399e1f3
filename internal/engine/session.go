package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/config"
	"github.com/tthsd/tthsd/internal/downloadcfg"
	"github.com/tthsd/tthsd/internal/eventsink"
	"github.com/tthsd/tthsd/internal/fp"
	"github.com/tthsd/tthsd/internal/history"
	"github.com/tthsd/tthsd/internal/metrics"
)

// DispatchMode selects how a Session runs its Tasks.
type DispatchMode int

const (
	DispatchSerial DispatchMode = iota
	DispatchParallel
)

// SessionState is one Session's lifecycle state.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionRunning
	SessionPaused
	SessionStopping
	SessionDone
	SessionFailed
)

// Options configures a Session at creation, mirroring the per-call JSON
// fields of start_download/get_downloader plus the process-wide defaults
// they fall back to.
type Options struct {
	Name            string
	ThreadCount     int
	ChunkBytes      int64
	UserAgent       string
	MaxRedirects    int
	PerHostConnCap  int
	ConnectTimeout  time.Duration
	CollisionPolicy downloadcfg.CollisionPolicy
	EventQueueCap   int
	Callback        eventsink.Sink
	RemoteAddr      string
	UseSocket       bool
}

// OptionsFromConfig seeds Options with process-wide defaults from cfg,
// leaving per-call overrides for the caller to set afterward.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ThreadCount:     cfg.DefaultThreadCount,
		ChunkBytes:      cfg.DefaultChunkBytes,
		MaxRedirects:    cfg.MaxRedirects,
		PerHostConnCap:  cfg.PerHostConnCap,
		ConnectTimeout:  cfg.ConnectTimeout,
		CollisionPolicy: downloadcfg.CollisionError,
		EventQueueCap:   cfg.EventQueueCap,
	}
}

// Session is a container of Tasks sharing configuration and an id.
type Session struct {
	id   int32
	name string
	opts Options

	tasks []*Task

	threadCount     int
	chunkBytes      int64
	userAgent       string
	maxRedirects    int
	collisionPolicy downloadcfg.CollisionPolicy

	client   *http.Client
	dispatch *eventsink.Dispatcher
	remote   *eventsink.RemoteSink
	history  history.Recorder
	log      *slog.Logger

	mu     sync.Mutex
	state  SessionState
	paused bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id int32, descs []Descriptor, opts Options, log *slog.Logger, rec history.Recorder) *Session {
	tasks := make([]*Task, len(descs))
	seen := make(map[string]bool, len(descs))
	for i, d := range descs {
		tasks[i] = newTask(d, i)
		f := fp.TaskFingerprint(d.URL, d.SavePath)
		if seen[f] {
			log.Info("duplicate task in batch", "session_id", id, "task_id", d.ID, "fingerprint", f)
		}
		seen[f] = true
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "TTHSD/1.0"
	}

	s := &Session{
		id:              id,
		name:            opts.Name,
		opts:            opts,
		tasks:           tasks,
		threadCount:     opts.ThreadCount,
		chunkBytes:      opts.ChunkBytes,
		userAgent:       ua,
		maxRedirects:    opts.MaxRedirects,
		collisionPolicy: opts.CollisionPolicy,
		client:          newHTTPClient(opts.ConnectTimeout, opts.PerHostConnCap),
		dispatch:        eventsink.NewDispatcher(opts.EventQueueCap, log),
		history:         rec,
		log:             log.With("session_id", id),
		state:           SessionCreated,
		done:            make(chan struct{}),
	}

	if opts.Callback != nil {
		s.dispatch.AddSink(opts.Callback)
	}
	if opts.RemoteAddr != "" {
		s.remote = eventsink.NewRemoteSink(context.Background(), opts.RemoteAddr, opts.UseSocket, s.log, func(reason string) {
			s.dispatch.Emit(
				eventsink.Event{Type: eventsink.TypeMsg, ID: idString(id)},
				eventsink.MsgData{Text: "remote event sink degraded after exhausting reconnect attempts: " + reason},
			)
		})
		s.dispatch.AddSink(s.remote.Send)
	}

	return s
}

func idString(id int32) string {
	return strconv.Itoa(int(id))
}

// ID returns the Session's registry id.
func (s *Session) ID() int32 { return s.id }

// State returns the Session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartSerial begins the Session running one Task at a time in list order.
func (s *Session) StartSerial() {
	s.start(DispatchSerial)
}

// StartParallel begins the Session running all Tasks concurrently.
func (s *Session) StartParallel() {
	s.start(DispatchParallel)
}

func (s *Session) start(mode DispatchMode) {
	s.mu.Lock()
	if s.state != SessionCreated {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = SessionRunning
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.emitStart()

	go func() {
		defer metrics.SessionsActive.Dec()
		defer close(s.done)

		if mode == DispatchSerial {
			for _, t := range s.tasks {
				if ctx.Err() != nil {
					break
				}
				t.run(ctx, s)
			}
		} else {
			var wg sync.WaitGroup
			for _, t := range s.tasks {
				wg.Add(1)
				go func(t *Task) {
					defer wg.Done()
					t.run(ctx, s)
				}(t)
			}
			wg.Wait()
		}

		s.finish()
	}()
}

func (s *Session) finish() {
	anyFailed := false
	for _, t := range s.tasks {
		if t.State() == TaskFailed {
			anyFailed = true
		}
		if s.history != nil {
			o := t.outcome()
			s.history.Record(history.Outcome{
				SessionID:  s.id,
				TaskID:     o.taskID,
				URL:        o.url,
				SavePath:   o.savePath,
				Status:     o.status,
				TotalBytes: o.totalBytes,
				Downloaded: o.downloaded,
				Retries:    o.retries,
				StartedAt:  o.startedAt,
				FinishedAt: o.finishedAt,
			})
		}
	}

	s.mu.Lock()
	if s.state == SessionStopping {
		s.mu.Unlock()
		s.dispatch.Close()
		if s.remote != nil {
			s.remote.Close()
		}
		return
	}
	if anyFailed {
		s.state = SessionFailed
	} else {
		s.state = SessionDone
	}
	s.mu.Unlock()

	s.emitEnd()
	s.dispatch.Close()
	if s.remote != nil {
		s.remote.Close()
	}
}

// Wait blocks until the Session reaches a terminal state naturally (Done or
// Failed) or has been stopped, without itself requesting cancellation. A
// Session that was never started (still Created) blocks forever; callers
// must Start it first.
func (s *Session) Wait() {
	<-s.done
}

// Pause suspends every running Task's chunk dequeues.
func (s *Session) Pause() bool {
	s.mu.Lock()
	if s.state != SessionRunning {
		s.mu.Unlock()
		return false
	}
	s.state = SessionPaused
	s.paused = true
	s.mu.Unlock()

	for _, t := range s.tasks {
		t.Pause()
	}
	return true
}

// Resume clears a previous Pause.
func (s *Session) Resume() bool {
	s.mu.Lock()
	if s.state != SessionPaused {
		s.mu.Unlock()
		return false
	}
	s.state = SessionRunning
	s.paused = false
	s.mu.Unlock()

	for _, t := range s.tasks {
		t.Resume()
	}
	return true
}

// Stop cancels all in-flight work and waits for the run loop to release
// resources before returning, per SPEC_FULL.md's "stop_download returns
// only after resources are released."
func (s *Session) Stop() bool {
	s.mu.Lock()
	switch s.state {
	case SessionDone, SessionFailed, SessionStopping:
		s.mu.Unlock()
		return false
	case SessionCreated:
		// Never started: nothing to cancel, no dispatcher goroutine to drain.
		s.state = SessionStopping
		s.mu.Unlock()
		s.dispatch.Close()
		if s.remote != nil {
			s.remote.Close()
		}
		return true
	}
	s.state = SessionStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
	return true
}

func (s *Session) emitStart() {
	s.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeStart, Name: s.name, ShowName: s.name, ID: idString(s.id)},
		eventsink.EmptyData{},
	)
}

func (s *Session) emitEnd() {
	s.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeEnd, ID: idString(s.id)},
		eventsink.EmptyData{},
	)
}
