package edge

import (
	"sync/atomic"
	"time"
)

// SessionLimiter admits one click batch per window. The window matches the
// score push cadence: a well-behaved client coalesces clicks between
// pushes, so anything faster is either a bug or abuse.
type SessionLimiter struct {
	window    time.Duration
	lastBatch atomic.Int64
}

func NewSessionLimiter(window time.Duration) *SessionLimiter {
	return &SessionLimiter{window: window}
}

// Allow reports whether a batch may be submitted now. A granted slot is
// consumed even if the downstream submit later fails; rejected batches
// must not be retried within the window.
func (l *SessionLimiter) Allow(now time.Time) bool {
	for {
		last := l.lastBatch.Load()
		if now.UnixNano()-last < l.window.Nanoseconds() {
			return false
		}
		if l.lastBatch.CompareAndSwap(last, now.UnixNano()) {
			return true
		}
	}
}
