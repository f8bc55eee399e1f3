package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("TTHSD_DEFAULT_THREAD_COUNT", "")
	t.Setenv("TTHSD_DEFAULT_CHUNK_MB", "")
	cfg := FromEnv()
	if cfg.DefaultThreadCount != 64 {
		t.Fatalf("DefaultThreadCount = %d, want 64", cfg.DefaultThreadCount)
	}
	if cfg.DefaultChunkBytes != 10*1024*1024 {
		t.Fatalf("DefaultChunkBytes = %d, want 10MiB", cfg.DefaultChunkBytes)
	}
	if cfg.MaxRedirects != 10 {
		t.Fatalf("MaxRedirects = %d, want 10", cfg.MaxRedirects)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TTHSD_DEFAULT_THREAD_COUNT", "8")
	t.Setenv("TTHSD_DEFAULT_CHUNK_MB", "4")
	t.Setenv("TTHSD_DEBUG_ADDR", "127.0.0.1:9090")
	cfg := FromEnv()
	if cfg.DefaultThreadCount != 8 {
		t.Fatalf("DefaultThreadCount = %d, want 8", cfg.DefaultThreadCount)
	}
	if cfg.DefaultChunkBytes != 4*1024*1024 {
		t.Fatalf("DefaultChunkBytes = %d, want 4MiB", cfg.DefaultChunkBytes)
	}
	if cfg.DebugAddr != "127.0.0.1:9090" {
		t.Fatalf("DebugAddr = %q", cfg.DebugAddr)
	}
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("TTHSD_DEFAULT_THREAD_COUNT", "not-a-number")
	cfg := FromEnv()
	if cfg.DefaultThreadCount != 64 {
		t.Fatalf("DefaultThreadCount = %d, want default 64 on parse failure", cfg.DefaultThreadCount)
	}
}
