// Command tthsd is the shared-library entry point: it builds with
// -buildmode=c-shared into libtthsd.so/.dylib/.dll, exporting the seven C
// ABI symbols named in SPEC_FULL.md §6. CGo cannot invoke a caller-supplied
// function pointer directly, so the preamble below carries the same
// "static C wrapper" technique original_source's own Go binding uses on the
// consumer side (bindings/golang/native.go's call_start_download /
// call_int_int) — here turned around to invoke the *caller's* callback
// instead of a dynamically loaded symbol.
package main

/*
#include <stdlib.h>
#include <stdbool.h>

typedef void (*tthsd_callback_t)(const char* event_json, const char* data_json);

static inline void tthsd_invoke_callback(tthsd_callback_t cb, const char* event_json, const char* data_json) {
	if (cb != NULL) {
		cb(event_json, data_json);
	}
}
*/
import "C"

import (
	"log/slog"
	"net/http"
	"sync"
	"unsafe"

	"github.com/tthsd/tthsd/internal/config"
	"github.com/tthsd/tthsd/internal/debugserver"
	"github.com/tthsd/tthsd/internal/engine"
	"github.com/tthsd/tthsd/internal/eventsink"
	"github.com/tthsd/tthsd/internal/history"
	"github.com/tthsd/tthsd/internal/metrics"
	"github.com/tthsd/tthsd/internal/tthsdlog"
)

var (
	initOnce sync.Once

	cfg      config.Config
	logger   *slog.Logger
	registry *engine.Registry
	recorder history.Recorder
)

// initRuntime lazily builds the process-wide runtime on first use, per the
// "global dispatcher thread ... sized once at first start_download/
// get_downloader" design note.
func initRuntime() {
	initOnce.Do(func() {
		cfg = config.FromEnv()
		logger = tthsdlog.New(cfg.LogLevel, cfg.LogFile)
		metrics.Register()

		if cfg.HistoryDSN != "" {
			pg, err := history.NewPostgres(cfg.HistoryDSN)
			if err != nil {
				logger.Error("failed to open history store, falling back to in-memory", "error", err)
				recorder = history.NewInMemory(0)
			} else {
				recorder = pg
			}
		} else {
			recorder = history.NewInMemory(0)
		}

		registry = engine.NewRegistry(logger, recorder)

		if cfg.DebugAddr != "" {
			srv := debugserver.New(cfg.DebugAddr, cfg.DebugToken, nil, logger)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("debug server exited", "error", err)
				}
			}()
		}
	})
}

func makeCallbackSink(cb C.tthsd_callback_t) eventsink.Sink {
	if cb == nil {
		return nil
	}
	return func(eventJSON, dataJSON string) {
		cEvent := C.CString(eventJSON)
		cData := C.CString(dataJSON)
		defer C.free(unsafe.Pointer(cEvent))
		defer C.free(unsafe.Pointer(cData))
		C.tthsd_invoke_callback(cb, cEvent, cData)
	}
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func goBoolPtr(b *C.bool) *bool {
	if b == nil {
		return nil
	}
	v := bool(*b)
	return &v
}

// buildOptions assembles engine.Options from the shared create-time
// arguments of start_download and get_downloader, validating the
// InvalidInput preconditions from SPEC_FULL.md §4.1/§7. ok is false when any
// precondition fails; callers must return -1 without creating a Session.
func buildOptions(tasksJSON *C.char, count, threads, chunkMB C.int, cb C.tthsd_callback_t, useCallbackURL C.bool, userAgent, cbURL *C.char, useSocket *C.bool) ([]engine.Descriptor, engine.Options, bool) {
	if int(threads) < 1 || int(chunkMB) < 1 {
		return nil, engine.Options{}, false
	}

	descs, err := engine.ParseTasks(goString(tasksJSON), int(count))
	if err != nil {
		logger.Warn("rejected task batch", "error", err)
		return nil, engine.Options{}, false
	}

	cbURLStr := goString(cbURL)
	if bool(useCallbackURL) && cbURLStr == "" {
		return nil, engine.Options{}, false
	}

	opts := engine.OptionsFromConfig(cfg)
	opts.ThreadCount = int(threads)
	opts.ChunkBytes = int64(chunkMB) * 1024 * 1024
	if ua := goString(userAgent); ua != "" {
		opts.UserAgent = ua
	}
	opts.Callback = makeCallbackSink(cb)
	if bool(useCallbackURL) {
		opts.RemoteAddr = cbURLStr
		if p := goBoolPtr(useSocket); p != nil {
			opts.UseSocket = *p
		}
	}
	return descs, opts, true
}

//export start_download
func start_download(tasksJSON *C.char, count, threads, chunkMB C.int, cb C.tthsd_callback_t, useCallbackURL C.bool, userAgent, cbURL *C.char, useSocket, isMultiple *C.bool) C.int {
	initRuntime()

	descs, opts, ok := buildOptions(tasksJSON, count, threads, chunkMB, cb, useCallbackURL, userAgent, cbURL, useSocket)
	if !ok {
		return -1
	}

	id := registry.StartDownload(descs, opts, goBoolPtr(isMultiple))
	return C.int(id)
}

//export get_downloader
func get_downloader(tasksJSON *C.char, count, threads, chunkMB C.int, cb C.tthsd_callback_t, useCallbackURL C.bool, userAgent, cbURL *C.char, useSocket *C.bool) C.int {
	initRuntime()

	descs, opts, ok := buildOptions(tasksJSON, count, threads, chunkMB, cb, useCallbackURL, userAgent, cbURL, useSocket)
	if !ok {
		return -1
	}

	s := registry.Create(descs, opts)
	return C.int(s.ID())
}

//export start_download_id
func start_download_id(id C.int) C.int {
	s, err := registry.Get(int32(id))
	if err != nil {
		return -1
	}
	s.StartSerial()
	return 0
}

//export start_multiple_downloads_id
func start_multiple_downloads_id(id C.int) C.int {
	s, err := registry.Get(int32(id))
	if err != nil {
		return -1
	}
	s.StartParallel()
	return 0
}

//export pause_download
func pause_download(id C.int) C.int {
	s, err := registry.Get(int32(id))
	if err != nil || !s.Pause() {
		return -1
	}
	return 0
}

//export resume_download
func resume_download(id C.int) C.int {
	s, err := registry.Get(int32(id))
	if err != nil || !s.Resume() {
		return -1
	}
	return 0
}

//export stop_download
func stop_download(id C.int) C.int {
	if !registry.StopAndRemove(int32(id)) {
		return -1
	}
	return 0
}

func main() {}
