// Package monoclock provides a single process-wide monotonic clock origin
// so every mono_ms stamped into an outbound envelope, and every internal
// deadline computed from it, share one ordering regardless of which
// goroutine or package reads the clock.
package monoclock

import (
	"sync"
	"time"
)

var (
	once   sync.Once
	origin time.Time
)

func t0() time.Time {
	once.Do(func() { origin = time.Now() })
	return origin
}

// NowMs returns milliseconds elapsed since the process-wide origin. The
// first call establishes the origin.
func NowMs() uint64 {
	return uint64(time.Since(t0()).Milliseconds())
}

// WallUnixMs returns the current wall-clock time in Unix milliseconds.
func WallUnixMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
