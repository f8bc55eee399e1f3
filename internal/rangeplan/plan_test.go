package rangeplan

import "testing"

func TestNewPartitionsExactly(t *testing.T) {
	p := New(25, 10)
	chunks := p.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	var prevEnd int64
	for i, c := range chunks {
		if c.Start != prevEnd {
			t.Fatalf("chunk %d: gap/overlap, Start=%d want %d", i, c.Start, prevEnd)
		}
		prevEnd = c.End
	}
	if prevEnd != 25 {
		t.Fatalf("partition does not cover total: ended at %d", prevEnd)
	}
	if chunks[2].Size() != 5 {
		t.Fatalf("tail chunk size = %d, want 5", chunks[2].Size())
	}
}

func TestNextServesAscendingThenRetries(t *testing.T) {
	p := New(30, 10)
	c1, ok := p.Next()
	if !ok || c1.Start != 0 {
		t.Fatalf("expected first chunk at 0, got %+v ok=%v", c1, ok)
	}
	c2, _ := p.Next()
	if c2.Start != 10 {
		t.Fatalf("expected second chunk at 10, got %+v", c2)
	}

	if !p.Retry(c1) {
		t.Fatalf("expected retry to succeed with retries left")
	}
	c3, ok := p.Next()
	if !ok {
		t.Fatalf("expected a chunk from ready/failed queues")
	}
	// c3 should be the last Ready chunk (start 20) since Ready is drained
	// before the failed-retry queue, per "fresh Ready first" policy.
	if c3.Start != 20 {
		t.Fatalf("expected chunk at 20 before retrying failed chunk, got %+v", c3)
	}

	c4, ok := p.Next()
	if !ok || c4 != c1 {
		t.Fatalf("expected retried chunk c1 to come back around")
	}
}

func TestRetryExhaustion(t *testing.T) {
	p := New(10, 10)
	c, _ := p.Next()
	for i := 0; i < maxRetries-1; i++ {
		if !p.Retry(c) {
			t.Fatalf("retry %d: expected success", i)
		}
		p.Next() // re-dequeue to simulate another attempt
	}
	if p.Retry(c) {
		t.Fatalf("expected retries to be exhausted")
	}
	if c.State != Failed {
		t.Fatalf("expected chunk state Failed, got %v", c.State)
	}
}

func TestCompleteAndDone(t *testing.T) {
	p := New(20, 10)
	for {
		c, ok := p.Next()
		if !ok {
			break
		}
		p.Complete(c)
	}
	if !p.Done() {
		t.Fatalf("expected planner to report Done")
	}
}

func TestSteal(t *testing.T) {
	p := New(100, 100) // single chunk covering the whole file
	busy, _ := p.Next()

	stolen, ok := p.Steal(busy, 10) // 90 bytes remain, far below 2*minStealSize (2 MiB), so this won't steal.
	if ok {
		t.Fatalf("did not expect a steal on a remaining range smaller than 2*minStealSize: got %+v", stolen)
	}
}

func TestStealOnLargeRemainingRange(t *testing.T) {
	total := int64(10 * 1024 * 1024) // 10 MiB, single chunk
	p := New(total, total)
	busy, _ := p.Next()

	stolen, ok := p.Steal(busy, 0)
	if !ok {
		t.Fatalf("expected steal to succeed on a large remaining range")
	}
	if stolen.Start != busy.End {
		t.Fatalf("expected contiguous partition after steal: stolen.Start=%d busy.End=%d", stolen.Start, busy.End)
	}
	if stolen.End != total {
		t.Fatalf("stolen chunk should extend to the original total, got %d", stolen.End)
	}
}
