// Package chunkpool runs the bounded goroutine pool that drives one Task's
// chunked download: each worker claims a Chunk from a rangeplan.Planner,
// issues a ranged GET, and writes the response body straight into the
// Task's filewriter.Writer at the chunk's absolute offset. It also owns the
// two failure-mode fallbacks a real HTTP server can force on a chunked
// download — a stall watchdog for a connection that stopped producing bytes,
// and a single-stream fallback for a server that rejects or ignores Range —
// both grounded in original_source's http_downloader.rs minus its TLS
// fingerprint emulation, which has no place in an honest client.
package chunkpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tthsd/tthsd/internal/backoff"
	"github.com/tthsd/tthsd/internal/eventsink"
	"github.com/tthsd/tthsd/internal/filewriter"
	"github.com/tthsd/tthsd/internal/metrics"
	"github.com/tthsd/tthsd/internal/rangeplan"
)

const (
	stallTimeout       = 30 * time.Second
	watchdogTick       = 5 * time.Second
	progressByteDelta  = 512 * 1024
	progressMinPeriod  = 200 * time.Millisecond
	readBufSize        = 32 * 1024
)

// RejectionError marks a response the pool treats as the server refusing
// multi-connection downloads, forcing a single-stream fallback.
type RejectionError struct {
	StatusCode int
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("server rejected ranged request: status %d", e.StatusCode)
}

// Pool downloads one Task's byte range in parallel chunks.
type Pool struct {
	url       string
	userAgent string
	client    *http.Client
	writer    *filewriter.Writer
	planner   *rangeplan.Planner
	dispatch  *eventsink.Dispatcher
	taskID    string
	showName  string

	threadCount int
	total       int64 // -1 if unknown at start

	downloaded atomic.Int64

	progMu       sync.Mutex
	lastEmitAt   time.Time
	lastEmitSent int64

	paused atomic.Bool

	inFlightMu sync.Mutex
	inFlight   map[*rangeplan.Chunk]*atomic.Int64

	fellBack atomic.Bool

	cancel   context.CancelFunc
	failOnce sync.Once
	errMu    sync.Mutex
	runErr   error
}

// New builds a Pool ready to Run. total may be -1 when the size was not
// known at probe time (the caller should then have sized the planner to a
// single placeholder chunk and Pool.Run degrades straight to single-stream).
func New(url, userAgent string, client *http.Client, w *filewriter.Writer, planner *rangeplan.Planner, threadCount int, total int64, dispatch *eventsink.Dispatcher, taskID, showName string) *Pool {
	if threadCount < 1 {
		threadCount = 1
	}
	return &Pool{
		url:         url,
		userAgent:   userAgent,
		client:      client,
		writer:      w,
		planner:     planner,
		dispatch:    dispatch,
		taskID:      taskID,
		showName:    showName,
		threadCount: threadCount,
		total:       total,
		inFlight:    make(map[*rangeplan.Chunk]*atomic.Int64),
	}
}

// Pause suspends new chunk dequeues; in-flight reads keep running to
// completion (SPEC_FULL.md's pause semantics: no mid-chunk abort).
func (p *Pool) Pause() { p.paused.Store(true) }

// Resume clears a previous Pause.
func (p *Pool) Resume() { p.paused.Store(false) }

// Downloaded returns the cumulative bytes written so far.
func (p *Pool) Downloaded() int64 { return p.downloaded.Load() }

// Run drives the pool to completion, returning nil once every chunk is
// Completed (whether via ranged fetches or a single-stream fallback).
// Cancelling ctx aborts in-flight reads immediately (stop_download
// semantics); it does not distinguish pause from stop, so callers
// implementing pause must use Pause/Resume instead of ctx cancellation.
func (p *Pool) Run(ctx context.Context) error {
	if p.threadCount <= 1 || p.total < 0 {
		return p.runSingleStream(ctx, 0)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < p.threadCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(runCtx)
		}()
	}
	wg.Wait()

	p.errMu.Lock()
	runErr := p.runErr
	p.errMu.Unlock()
	if runErr != nil {
		return runErr
	}
	if p.fellBack.Load() {
		return p.runSingleStream(ctx, p.downloaded.Load())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !p.planner.Done() {
		return fmt.Errorf("chunkpool: planner did not complete all chunks")
	}
	return nil
}

// fail records the first fatal error the pool observes and cancels every
// worker, per "on exhaustion ... the Task transitions to Failed and the
// remaining workers observe a cancellation signal and return."
func (p *Pool) fail(err error) {
	p.failOnce.Do(func() {
		p.errMu.Lock()
		p.runErr = err
		p.errMu.Unlock()
		if p.cancel != nil {
			p.cancel()
		}
	})
}

func (p *Pool) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil || p.fellBack.Load() {
			return
		}
		if p.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		chunk, ok := p.planner.Next()
		if !ok {
			if stolen, sok := p.trySteal(); sok {
				chunk = stolen
			} else if p.planner.Done() {
				return
			} else {
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
					continue
				}
			}
		}

		p.fetchChunk(ctx, chunk)
	}
}

func (p *Pool) trySteal() (*rangeplan.Chunk, bool) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	for busy, progress := range p.inFlight {
		if stolen, ok := p.planner.Steal(busy, progress.Load()); ok {
			return stolen, true
		}
	}
	return nil, false
}

func (p *Pool) registerInFlight(c *rangeplan.Chunk) *atomic.Int64 {
	progress := new(atomic.Int64)
	p.inFlightMu.Lock()
	p.inFlight[c] = progress
	p.inFlightMu.Unlock()
	return progress
}

func (p *Pool) unregisterInFlight(c *rangeplan.Chunk) {
	p.inFlightMu.Lock()
	delete(p.inFlight, c)
	p.inFlightMu.Unlock()
}

func (p *Pool) fetchChunk(ctx context.Context, c *rangeplan.Chunk) {
	progress := p.registerInFlight(c)
	defer p.unregisterInFlight(c)

	err := p.doRangedFetch(ctx, c, progress)
	if err == nil {
		p.planner.Complete(c)
		return
	}
	if _, rejected := err.(*RejectionError); rejected {
		p.fellBack.Store(true)
		p.emitMsg(fmt.Sprintf("server rejected ranged request, falling back to single-stream: %v", err))
		return
	}

	metrics.ChunkRetries.WithLabelValues(classify(err)).Inc()

	// attempt is 1-indexed against the failure that just happened, matching
	// backoff.Delay's "delay before retry attempt n" convention; RetriesLeft
	// has not been decremented by planner.Retry yet at this point.
	attempt := rangeplan.MaxRetries - c.RetriesLeft + 1
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff.Delay(attempt)):
	}

	if !p.planner.Retry(c) {
		p.fail(fmt.Errorf("chunkpool: chunk [%d,%d) exhausted retries: %w", c.Start, c.End, err))
	}
}

func (p *Pool) doRangedFetch(ctx context.Context, c *rangeplan.Chunk, progress *atomic.Int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", c.Start, c.End-1))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range header and sent the whole entity: this is
		// the genuine range-unsupported signal, not a transient failure.
		return &RejectionError{StatusCode: resp.StatusCode}
	case http.StatusPartialContent:
		// expected path
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		// A flaky or rate-limiting origin can return these for reasons
		// unrelated to Range support; treat as an ordinary transient
		// failure and let the caller's retry/backoff accounting handle it.
		return fmt.Errorf("transient status %d", resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return p.stream(ctx, resp.Body, c.Start, progress)
}

// stream copies body into the writer starting at off, updating progress and
// the cumulative downloaded counter as it goes, and aborting the read if no
// bytes arrive for stallTimeout.
func (p *Pool) stream(ctx context.Context, body io.ReadCloser, off int64, progress *atomic.Int64) error {
	lastRead := new(atomic.Int64)
	lastRead.Store(time.Now().UnixNano())

	watchdogDone := make(chan struct{})
	go func() {
		t := time.NewTicker(watchdogTick)
		defer t.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-t.C:
				if time.Since(time.Unix(0, lastRead.Load())) > stallTimeout {
					body.Close()
					return
				}
			}
		}
	}()
	defer close(watchdogDone)

	buf := make([]byte, readBufSize)
	pos := off
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := body.Read(buf)
		lastRead.Store(time.Now().UnixNano())
		if n > 0 {
			if _, werr := p.writer.WriteAt(buf[:n], pos); werr != nil {
				return werr
			}
			pos += int64(n)
			progress.Add(int64(n))
			p.addProgress(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stalled or aborted read: %w", err)
		}
	}
}

// runSingleStream performs one unranged GET for the whole entity, used both
// as the initial strategy when threadCount<=1 or total is unknown, and as
// the fallback a ranged rejection triggers mid-download. alreadyWritten
// lets callers report progress already on disk without double-counting it,
// though the body is rewritten from offset 0 regardless since a server that
// rejects Range cannot resume from the middle.
func (p *Pool) runSingleStream(ctx context.Context, alreadyWritten int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("single-stream fetch: unexpected status %d", resp.StatusCode)
	}

	if p.total <= 0 {
		if cl := resp.ContentLength; cl > 0 {
			p.total = cl
			p.writer.Grow(cl)
		}
	}

	// The first alreadyWritten bytes were counted by the ranged workers;
	// rewrite them without adding them to the progress counter again.
	var off int64
	if alreadyWritten > 0 {
		n, err := io.CopyN(io.NewOffsetWriter(p.writer, 0), resp.Body, alreadyWritten)
		off = n
		if err != nil && err != io.EOF {
			return err
		}
	}

	progress := new(atomic.Int64)
	if err := p.stream(ctx, resp.Body, off, progress); err != nil {
		return err
	}
	for _, c := range p.planner.Chunks() {
		p.planner.Complete(c)
	}
	return nil
}

func (p *Pool) addProgress(n int64) {
	total := p.downloaded.Add(n)
	metrics.BytesDownloaded.Add(float64(n))

	p.progMu.Lock()
	defer p.progMu.Unlock()
	since := time.Since(p.lastEmitAt)
	if total-p.lastEmitSent >= progressByteDelta || since >= progressMinPeriod {
		p.lastEmitSent = total
		p.lastEmitAt = time.Now()
		p.emitUpdate(total)
	}
}

func (p *Pool) emitUpdate(downloaded int64) {
	if p.dispatch == nil {
		return
	}
	p.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeUpdate, Name: p.showName, ShowName: p.showName, ID: p.taskID},
		eventsink.UpdateData{Downloaded: downloaded, Total: p.total},
	)
}

func (p *Pool) emitMsg(text string) {
	if p.dispatch == nil {
		return
	}
	p.dispatch.Emit(
		eventsink.Event{Type: eventsink.TypeMsg, Name: p.showName, ShowName: p.showName, ID: p.taskID},
		eventsink.MsgData{Text: text},
	)
}

func classify(err error) string {
	if err == nil {
		return "none"
	}
	return "transient"
}
