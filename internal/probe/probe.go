// Package probe determines a Task's total size, range support, and final
// URL (after redirects) before the range planner and chunk worker pool ever
// touch the network. The shape — HEAD first, fall back to a zero-length
// ranged GET when HEAD is unreliable, retry transient failures with
// exponential backoff — is grounded in the same-pack accelara downloader's
// probe() method, adapted from its "done once per file" pattern into one
// reusable against any *http.Client the engine's Downloader abstraction hands it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tthsd/tthsd/internal/backoff"
	"github.com/tthsd/tthsd/internal/metrics"
)

// ErrTooManyRedirects is returned when a probe follows more than maxRedirects hops.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrProbeFailed wraps the last transient error after all retries are exhausted.
type ErrProbeFailed struct{ Cause error }

func (e *ErrProbeFailed) Error() string { return fmt.Sprintf("probe failed: %v", e.Cause) }
func (e *ErrProbeFailed) Unwrap() error { return e.Cause }

// Result is what the range planner and chunk worker pool need to know before
// starting work on a Task.
type Result struct {
	FinalURL      string
	TotalSize     int64 // -1 when unknown
	AcceptsRanges bool
}

// Probe issues HEAD (then, if inconclusive, a zero-length ranged GET)
// against rawURL, retrying transient failures per the shared backoff
// schedule, up to backoff.MaxAttempts.
func Probe(ctx context.Context, client *http.Client, rawURL, userAgent string, maxRedirects int, log *slog.Logger) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= backoff.MaxAttempts; attempt++ {
		start := time.Now()
		res, err := attemptProbe(ctx, client, rawURL, userAgent, maxRedirects)
		elapsed := time.Since(start).Seconds()

		if err == nil {
			metrics.ProbeLatency.WithLabelValues("ok").Observe(elapsed)
			return res, nil
		}
		if errors.Is(err, ErrTooManyRedirects) {
			metrics.ProbeLatency.WithLabelValues("too_many_redirects").Observe(elapsed)
			metrics.ProbeErrors.WithLabelValues("too_many_redirects").Inc()
			return nil, err
		}

		lastErr = err
		metrics.ProbeLatency.WithLabelValues("error").Observe(elapsed)
		metrics.ProbeErrors.WithLabelValues("transient").Inc()
		if log != nil {
			log.Warn("probe attempt failed", "url", rawURL, "attempt", attempt, "error", err)
		}
		if attempt == backoff.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.Delay(attempt)):
		}
	}
	return nil, &ErrProbeFailed{Cause: lastErr}
}

func attemptProbe(ctx context.Context, client *http.Client, rawURL, userAgent string, maxRedirects int) (*Result, error) {
	redirects := 0
	currentURL := rawURL

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, currentURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := roundTripNoRedirect(client, req)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("redirect status %d without Location header", resp.StatusCode)
			}
			redirects++
			if redirects > maxRedirects {
				return nil, ErrTooManyRedirects
			}
			next, err := req.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("invalid redirect Location %q: %w", loc, err)
			}
			currentURL = next.String()
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("server error on HEAD: %d", resp.StatusCode)
		}

		total, hasLength := contentLength(resp.Header)
		acceptsRanges := resp.Header.Get("Accept-Ranges") == "bytes"
		resp.Body.Close()

		if hasLength {
			return &Result{FinalURL: currentURL, TotalSize: total, AcceptsRanges: acceptsRanges}, nil
		}
		// HEAD was inconclusive (no Content-Length) — fall back to a
		// zero-length ranged GET to learn the total size from Content-Range.
		return rangedGETProbe(ctx, client, currentURL, userAgent)
	}
}

func rangedGETProbe(ctx context.Context, client *http.Client, rawURL, userAgent string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error on ranged GET: %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			return &Result{FinalURL: resp.Request.URL.String(), TotalSize: total, AcceptsRanges: true}, nil
		}
	}

	// 200 in response to a Range request: the server ignored it. Single-stream fallback.
	total, hasLength := contentLength(resp.Header)
	if !hasLength {
		total = -1
	}
	return &Result{FinalURL: resp.Request.URL.String(), TotalSize: total, AcceptsRanges: false}, nil
}

func roundTripNoRedirect(client *http.Client, req *http.Request) (*http.Response, error) {
	// Redirects are walked manually so each hop counts toward maxRedirects
	// and we can capture the final URL precisely.
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c.Do(req)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func contentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// totalFromContentRange parses "bytes x-y/TOTAL" and returns TOTAL.
func totalFromContentRange(v string) (int64, bool) {
	const prefix = "bytes "
	if !strings.HasPrefix(v, prefix) {
		return 0, false
	}
	v = strings.TrimPrefix(v, prefix)
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
