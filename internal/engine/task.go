// Package engine drives the Session/Task state machines described in
// SPEC_FULL.md §3-4.6: a Session owns a batch of Tasks, each Task owns one
// probe→plan→chunkpool→filewriter pipeline, and every state transition is
// reported through an eventsink.Dispatcher and reflected in the metrics
// package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/chunkpool"
	"github.com/tthsd/tthsd/internal/downloadcfg"
	"github.com/tthsd/tthsd/internal/eventsink"
	"github.com/tthsd/tthsd/internal/filewriter"
	"github.com/tthsd/tthsd/internal/metrics"
	"github.com/tthsd/tthsd/internal/probe"
	"github.com/tthsd/tthsd/internal/rangeplan"
)

// TaskState is one Task's runtime state.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskProbing
	TaskDownloading
	TaskPaused
	TaskFinishing
	TaskDone
	TaskFailed
)

// Descriptor is the caller-supplied, immutable-once-accepted task input.
type Descriptor struct {
	URL      string `json:"url"`
	SavePath string `json:"save_path"`
	ShowName string `json:"show_name"`
	ID       string `json:"id"`
}

// Normalize fills ShowName from the URL's last path segment when absent, and
// falls back to a synthetic name keyed by index when even that is empty.
func (d *Descriptor) Normalize(index int) {
	if d.ShowName != "" {
		return
	}
	if u, err := url.Parse(d.URL); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			d.ShowName = base
			return
		}
	}
	d.ShowName = "task_" + strconv.Itoa(index)
}

// Task is one URL→file download within a Session.
type Task struct {
	desc  Descriptor
	index int

	mu            sync.Mutex
	state         TaskState
	effectivePath string
	total         int64
	err           error
	retries       int
	startedAt     time.Time
	finishedAt    time.Time

	pool *chunkpool.Pool
}

func newTask(desc Descriptor, index int) *Task {
	desc.Normalize(index)
	return &Task{desc: desc, index: index, state: TaskPending}
}

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Pause suspends new chunk dequeues for this Task's pool, if it is running.
func (t *Task) Pause() {
	t.mu.Lock()
	pool := t.pool
	t.mu.Unlock()
	if pool != nil {
		pool.Pause()
	}
}

// Resume clears a previous Pause.
func (t *Task) Resume() {
	t.mu.Lock()
	pool := t.pool
	t.mu.Unlock()
	if pool != nil {
		pool.Resume()
	}
}

// run drives one Task through its full lifecycle, emitting startOne/endOne
// or err through dispatch. ctx cancellation aborts in-flight work immediately
// (stop semantics); pause/resume go through Task.Pause/Resume instead.
func (t *Task) run(ctx context.Context, s *Session) {
	t.startedAt = time.Now()
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	log := s.log.With("task_id", t.desc.ID, "url", t.desc.URL)

	t.setState(TaskProbing)

	effectivePath, resolveErr := downloadcfg.Resolve(s.collisionPolicy, t.desc.SavePath, nil)
	t.effectivePath = effectivePath
	t.emitStartOne(s, -1)
	if resolveErr != nil {
		t.fail(s, log, fmt.Errorf("IOError: %w", resolveErr))
		return
	}

	res, err := probe.Probe(ctx, s.client, t.desc.URL, s.userAgent, s.maxRedirects, log)
	if err != nil {
		if errors.Is(err, probe.ErrTooManyRedirects) {
			t.fail(s, log, fmt.Errorf("TooManyRedirects: %w", err))
		} else {
			t.fail(s, log, fmt.Errorf("ProbeFailed: %w", err))
		}
		return
	}
	t.total = res.TotalSize

	chunkSize := s.chunkBytes
	threadCount := s.threadCount
	singleStream := !res.AcceptsRanges || res.TotalSize <= 0
	if singleStream {
		threadCount = 1
	}

	planTotal, planChunk := res.TotalSize, chunkSize
	if planTotal <= 0 {
		planTotal, planChunk = 1, 1
	} else if singleStream {
		planChunk = planTotal
	}
	planner := rangeplan.New(planTotal, planChunk)

	writer, err := filewriter.Open(t.effectivePath, res.TotalSize, downloadcfg.CollisionOverwrite)
	if err != nil {
		t.fail(s, log, fmt.Errorf("IOError: %w", err))
		return
	}

	t.setState(TaskDownloading)
	pool := chunkpool.New(res.FinalURL, s.userAgent, s.client, writer, planner, threadCount, res.TotalSize, s.dispatch, t.desc.ID, t.desc.ShowName)
	t.mu.Lock()
	t.pool = pool
	t.mu.Unlock()

	runErr := pool.Run(ctx)

	t.setState(TaskFinishing)
	if runErr != nil {
		writer.Abandon()
		if errors.Is(runErr, context.Canceled) {
			// Cancelled: silent on stop, no err emitted.
			t.setState(TaskFailed)
			return
		}
		t.fail(s, log, fmt.Errorf("NetworkError: %w", runErr))
		return
	}

	if err := writer.Finish(); err != nil {
		t.fail(s, log, fmt.Errorf("IOError: %w", err))
		return
	}

	t.finishedAt = time.Now()
	t.setState(TaskDone)
	t.emitEndOne(s)
}

func (t *Task) fail(s *Session, log *slog.Logger, err error) {
	t.finishedAt = time.Now()
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.setState(TaskFailed)
	log.Error("task failed", "error", err)
	s.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeErr, Name: t.desc.ShowName, ShowName: t.desc.ShowName, ID: t.desc.ID},
		eventsink.ErrData{Error: err.Error()},
	)
}

func (t *Task) emitStartOne(s *Session, total int64) {
	savePath := t.effectivePath
	if savePath == "" {
		savePath = t.desc.SavePath
	}
	s.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeStartOne, Name: t.desc.ShowName, ShowName: t.desc.ShowName, ID: t.desc.ID},
		eventsink.StartOneData{URL: t.desc.URL, SavePath: savePath, ShowName: t.desc.ShowName, Index: t.index, Total: total},
	)
}

func (t *Task) emitEndOne(s *Session) {
	s.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeEndOne, Name: t.desc.ShowName, ShowName: t.desc.ShowName, ID: t.desc.ID},
		eventsink.StartOneData{URL: t.desc.URL, SavePath: t.effectivePath, ShowName: t.desc.ShowName, Index: t.index, Total: t.total},
	)
}

// outcome summarizes a terminal Task for the history store.
type outcome struct {
	taskID     string
	url        string
	savePath   string
	status     string
	totalBytes int64
	downloaded int64
	retries    int
	startedAt  time.Time
	finishedAt time.Time
}

func (t *Task) outcome() outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := "done"
	if t.state == TaskFailed {
		status = "failed"
	}
	var downloaded int64
	if t.pool != nil {
		downloaded = t.pool.Downloaded()
	}
	return outcome{
		taskID:     t.desc.ID,
		url:        t.desc.URL,
		savePath:   t.effectivePath,
		status:     status,
		totalBytes: t.total,
		downloaded: downloaded,
		retries:    t.retries,
		startedAt:  t.startedAt,
		finishedAt: t.finishedAt,
	}
}

// newHTTPClient builds the shared client used by probes and chunk fetches,
// with a per-host connection cap and connect timeout per SPEC_FULL.md §5.
// Redirects are followed normally here; probe.Probe walks redirects itself
// on a per-client copy so it can count hops against maxRedirects.
func newHTTPClient(connectTimeout time.Duration, perHostCap int) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     perHostCap,
		MaxIdleConnsPerHost: perHostCap,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport}
}
