package messages

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing millisecond timestamps for the whole
// log, even if the wall clock stalls or goes backwards. A cursor equal to one
// timestamp therefore never hides a later message.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock creates a clock whose first value is greater than seed.
func NewClock(seed int64) *Clock {
	return &Clock{last: seed, now: time.Now}
}

// Next returns max(now, last assigned + 1).
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
