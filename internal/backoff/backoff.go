// Package backoff implements the exponential-backoff-with-jitter schedule
// shared by the HTTP probe and the chunk worker pool: base 500ms, factor 2,
// jitter +/-20%, capped at 8s, for a maximum of 5 attempts. No pack example
// imports a dedicated backoff library for this (cenkalti/backoff appears
// only as an indirect dependency of a BitTorrent library elsewhere in the
// pack, never imported directly), so this is a small hand-rolled helper in
// the same spirit as the teacher's own preference for short, dependency-free
// utilities over pulling in a library for one function.
package backoff

import (
	"math/rand"
	"time"
)

const (
	Base       = 500 * time.Millisecond
	Factor     = 2.0
	Cap        = 8 * time.Second
	MaxAttempts = 5
	jitterFrac = 0.20
)

// Delay returns the backoff delay before retry attempt n (1-indexed: the
// delay before the first retry, after the initial attempt failed, is
// Delay(1)). The jitter component is randomized on every call.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(Base) * pow2(attempt-1)
	if d > float64(Cap) {
		d = float64(Cap)
	}
	jitter := d * jitterFrac * (2*rand.Float64() - 1) // +/- jitterFrac
	d += jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= Factor
	}
	return r
}
