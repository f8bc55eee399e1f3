// Package rangeplan splits a Task's [0, total) byte range into chunks and
// hands them out as a work queue, oldest-failed-first on retry, with an
// optional work-stealing extension so idle workers can carve a piece off a
// busier worker's remaining range instead of sitting parked. The steal is
// grounded in original_source's ChunkWorker dynamic re-splitting, re-expressed
// without its atomic-shared-end-pointer mechanism: here the split happens
// under the Planner's mutex, which shrinks the busy chunk's End in place.
package rangeplan

import "sync"

// ChunkState is a Chunk's lifecycle state.
type ChunkState int

const (
	Ready ChunkState = iota
	InFlight
	Completed
	Failed
)

// Chunk is a half-open byte range [Start, End) within one Task.
type Chunk struct {
	Start, End  int64
	State       ChunkState
	RetriesLeft int
}

func (c Chunk) Size() int64 { return c.End - c.Start }

const (
	maxRetries   = 5
	minStealSize = 1 << 20 // 1 MiB
)

// MaxRetries exposes maxRetries to callers outside the package that need to
// derive a 1-indexed attempt number from a Chunk's RetriesLeft, e.g. to look
// up the matching backoff delay.
const MaxRetries = maxRetries

// Planner produces ⌈total/chunkSize⌉ chunks and serves them out as a work
// queue. It is safe for concurrent use by the chunk worker pool's goroutines.
type Planner struct {
	mu     sync.Mutex
	chunks []*Chunk
	ready  []*Chunk // FIFO of Ready chunks in ascending order
	failed []*Chunk // oldest-failed-first retry queue
}

// New partitions [0, total) into chunks of chunkSize bytes (the tail chunk
// may be shorter). total must be > 0 and chunkSize must be >= 1.
func New(total, chunkSize int64) *Planner {
	p := &Planner{}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		c := &Chunk{Start: start, End: end, State: Ready, RetriesLeft: maxRetries}
		p.chunks = append(p.chunks, c)
		p.ready = append(p.ready, c)
	}
	return p
}

// Chunks returns every chunk in partition order, for partition-invariant
// assertions in tests and for progress accounting.
func (p *Planner) Chunks() []*Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Chunk, len(p.chunks))
	copy(out, p.chunks)
	return out
}

// Next dequeues the next chunk to work on: a fresh Ready chunk first (in
// ascending order), then the oldest retry-Failed chunk. Returns nil, false
// when nothing is immediately available (callers should then attempt Steal
// or conclude the Task is done/exhausted).
func (p *Planner) Next() (*Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ready) > 0 {
		c := p.ready[0]
		p.ready = p.ready[1:]
		c.State = InFlight
		return c, true
	}
	if len(p.failed) > 0 {
		c := p.failed[0]
		p.failed = p.failed[1:]
		c.State = InFlight
		return c, true
	}
	return nil, false
}

// Complete marks c Completed.
func (p *Planner) Complete(c *Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.State = Completed
}

// Retry requeues c for another attempt if it has retries left, returning
// false once the chunk is exhausted (caller should mark the Task Failed).
func (p *Planner) Retry(c *Chunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.RetriesLeft--
	if c.RetriesLeft <= 0 {
		c.State = Failed
		return false
	}
	c.State = Failed
	p.failed = append(p.failed, c)
	return true
}

// Done reports whether every chunk is Completed.
func (p *Planner) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.chunks {
		if c.State != Completed {
			return false
		}
	}
	return true
}

// Steal attempts to carve a new chunk off the tail of busy's remaining
// range, splitting at the midpoint between busy's current read position
// (progress bytes already streamed for that chunk) and its End, provided
// both halves would be at least minStealSize. On success busy's End is
// shrunk and the new chunk is returned Ready (not yet handed to anyone);
// the caller (an idle worker) claims it directly.
func (p *Planner) Steal(busy *Chunk, busyProgress int64) (*Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := busy.End - (busy.Start + busyProgress)
	if remaining < 2*minStealSize {
		return nil, false
	}
	mid := busy.Start + busyProgress + remaining/2
	stolen := &Chunk{Start: mid, End: busy.End, State: Ready, RetriesLeft: maxRetries}
	busy.End = mid
	p.chunks = append(p.chunks, stolen)
	return stolen, true
}
