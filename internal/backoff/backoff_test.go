package backoff

import "testing"

func TestDelayGrowsAndCaps(t *testing.T) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		d := Delay(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
		upper := Cap + Cap*2/10 // cap plus the +20% jitter
		if d > upper {
			t.Fatalf("attempt %d: delay %v exceeds cap+jitter bound %v", attempt, d, upper)
		}
		// Nominal delay doubles per attempt until it reaches Cap; jitter
		// keeps the actual delay within +/-20% of it.
		nominal := Base << (attempt - 1)
		if nominal > Cap {
			nominal = Cap
		}
		if lo, hi := nominal*8/10, nominal*12/10; d < lo || d > hi {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
		}
	}
}

func TestDelayClampsAttemptBelowOne(t *testing.T) {
	d0 := Delay(0)
	d1 := Delay(1)
	// Both should be drawn from the same base distribution; just assert
	// neither is wildly out of range rather than asserting equality, since
	// jitter is randomized.
	if d0 < 0 || d1 < 0 {
		t.Fatalf("expected non-negative delays, got %v and %v", d0, d1)
	}
}
