package session

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing Unix millisecond timestamps. When the
// wall clock stalls or steps back, it advances by one millisecond instead.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock creates a clock over now, or time.Now when nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the next timestamp.
func (c *Clock) Now() int64 {
	for {
		ts := c.now().UnixMilli()
		last := c.last.Load()
		if ts <= last {
			ts = last + 1
		}
		if c.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}
