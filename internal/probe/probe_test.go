package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tthsd/tthsd/internal/backoff"
)

func TestProbeHEADWithContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := Probe(context.Background(), srv.Client(), srv.URL, "tthsd-test", 10, nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.TotalSize != 1048576 {
		t.Fatalf("TotalSize = %d", res.TotalSize)
	}
	if !res.AcceptsRanges {
		t.Fatalf("expected AcceptsRanges=true")
	}
}

func TestProbeRangedGETFallbackWhenHEADInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK) // no Content-Length: inconclusive
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/2048")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	res, err := Probe(context.Background(), srv.Client(), srv.URL, "tthsd-test", 10, nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.TotalSize != 2048 || !res.AcceptsRanges {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProbeRangeUnsupportedFallsBackToSingleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Server ignores Range and returns 200 with the full body.
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	res, err := Probe(context.Background(), srv.Client(), srv.URL, "tthsd-test", 10, nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.AcceptsRanges {
		t.Fatalf("expected AcceptsRanges=false")
	}
}

func TestProbeRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	res, err := Probe(context.Background(), srv.Client(), srv.URL, "tthsd-test", 10, nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.TotalSize != 5 {
		t.Fatalf("TotalSize = %d", res.TotalSize)
	}
	if elapsed := time.Since(start); elapsed < backoff.Base*8/10 {
		t.Fatalf("expected some backoff delay to have elapsed, got %v", elapsed)
	}
}

func TestProbeTooManyRedirects(t *testing.T) {
	var mux http.HandlerFunc
	mux = func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := Probe(context.Background(), srv.Client(), srv.URL, "tthsd-test", 2, nil)
	if err != ErrTooManyRedirects {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}
