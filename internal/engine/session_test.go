package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tthsd/tthsd/internal/downloadcfg"
	"github.com/tthsd/tthsd/internal/eventsink"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sessionTestBody = "the quick brown fox jumps over the lazy dog"

func rangeTestServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rh := r.Header.Get("Range")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(sessionTestBody)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		if rh == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(sessionTestBody)))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(sessionTestBody))
			return
		}
		rh = strings.TrimPrefix(rh, "bytes=")
		parts := strings.SplitN(rh, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end, _ := strconv.Atoi(parts[1])
		if end >= len(sessionTestBody) {
			end = len(sessionTestBody) - 1
		}
		w.Header().Set("Content-Range", "bytes "+rh+"/"+strconv.Itoa(len(sessionTestBody)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(sessionTestBody[start : end+1]))
	}))
}

func collectEvents() (eventsink.Sink, func() []eventsink.Event) {
	var mu sync.Mutex
	var got []eventsink.Event
	sink := func(eventJSON, dataJSON string) {
		var ev eventsink.Event
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	return sink, func() []eventsink.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]eventsink.Event, len(got))
		copy(out, got)
		return out
	}
}

func TestSessionSerialDownloadCompletes(t *testing.T) {
	srv := rangeTestServer()
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	sink, events := collectEvents()
	opts := Options{
		Name:            "test-session",
		ThreadCount:     4,
		ChunkBytes:      10,
		MaxRedirects:    10,
		PerHostConnCap:  8,
		ConnectTimeout:  5 * time.Second,
		CollisionPolicy: downloadcfg.CollisionError,
		EventQueueCap:   64,
		Callback:        sink,
	}

	r := NewRegistry(testLog(), nil)
	s := r.Create([]Descriptor{{URL: srv.URL, SavePath: path, ID: "task-1"}}, opts)
	s.StartSerial()
	s.Wait()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != sessionTestBody {
		t.Fatalf("got %q, want %q", got, sessionTestBody)
	}

	evs := events()
	if len(evs) == 0 || evs[0].Type != eventsink.TypeStart {
		t.Fatalf("expected first event to be start, got %+v", evs)
	}
	last := evs[len(evs)-1]
	if last.Type != eventsink.TypeEnd {
		t.Fatalf("expected last event to be end, got %+v", last)
	}
}

func TestSessionPauseResume(t *testing.T) {
	srv := rangeTestServer()
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	opts := Options{
		ThreadCount:     2,
		ChunkBytes:      10,
		MaxRedirects:    10,
		PerHostConnCap:  8,
		ConnectTimeout:  5 * time.Second,
		CollisionPolicy: downloadcfg.CollisionError,
		EventQueueCap:   64,
	}

	r := NewRegistry(testLog(), nil)
	s := r.Create([]Descriptor{{URL: srv.URL, SavePath: path, ID: "task-1"}}, opts)
	s.StartSerial()

	if !s.Pause() {
		t.Fatalf("expected Pause to succeed while Running")
	}
	if !s.Resume() {
		t.Fatalf("expected Resume to succeed while Paused")
	}
	s.Wait()
	s.Stop()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}

func TestSessionStopOnCreatedNeverStarted(t *testing.T) {
	opts := Options{ThreadCount: 1, ChunkBytes: 10, EventQueueCap: 8, CollisionPolicy: downloadcfg.CollisionError}
	r := NewRegistry(testLog(), nil)
	s := r.Create([]Descriptor{{URL: "http://example.invalid", SavePath: "/tmp/x", ID: "t"}}, opts)

	if !s.Stop() {
		t.Fatalf("expected Stop on a never-started Session to succeed")
	}
	if s.Stop() {
		t.Fatalf("expected second Stop to report false (idempotent stop)")
	}
}
