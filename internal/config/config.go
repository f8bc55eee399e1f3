// Package config reads process-wide engine tunables from the environment,
// following the same env-var-with-fallback-default idiom the example pack
// uses for its external-service clients. Per-call JSON options always
// override whatever is read here for the one Session they configure.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every TTHSD_* tunable, resolved once at process start.
type Config struct {
	DefaultThreadCount int
	DefaultChunkBytes  int64

	ConnectTimeout    time.Duration
	// ReadIdleTimeout is read from the environment but not applied: the
	// chunk pool's stall watchdog uses its own fixed 30s timeout.
	ReadIdleTimeout   time.Duration
	MaxRedirects      int
	PerHostConnCap    int
	EventQueueCap     int

	LogLevel string
	LogFile  string

	HistoryDSN string

	DebugAddr  string
	DebugToken string
}

// FromEnv resolves Config from the environment, falling back to the defaults
// named in SPEC_FULL.md §7b for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		DefaultThreadCount: getenvInt("TTHSD_DEFAULT_THREAD_COUNT", 64),
		DefaultChunkBytes:  getenvInt64("TTHSD_DEFAULT_CHUNK_MB", 10) * 1024 * 1024,

		ConnectTimeout:  time.Duration(getenvInt("TTHSD_CONNECT_TIMEOUT_MS", 10_000)) * time.Millisecond,
		ReadIdleTimeout: time.Duration(getenvInt("TTHSD_READ_IDLE_TIMEOUT_MS", 30_000)) * time.Millisecond,
		MaxRedirects:    getenvInt("TTHSD_MAX_REDIRECTS", 10),
		PerHostConnCap:  getenvInt("TTHSD_PER_HOST_CONN_CAP", 64),
		EventQueueCap:   getenvInt("TTHSD_EVENT_QUEUE_CAPACITY", 1024),

		LogLevel: getenv("TTHSD_LOG_LEVEL", "info"),
		LogFile:  getenv("TTHSD_LOG_FILE", ""),

		HistoryDSN: getenv("TTHSD_HISTORY_DSN", ""),

		DebugAddr:  getenv("TTHSD_DEBUG_ADDR", ""),
		DebugToken: getenv("TTHSD_DEBUG_TOKEN", ""),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
