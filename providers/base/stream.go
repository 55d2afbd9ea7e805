package base

import (
	"time"

	"github.com/google/uuid"
)

// Clock produces monotonically non-decreasing unix-millisecond timestamps for
// the events of one stream. Wall-clock steps backwards (NTP adjustments) are
// clamped to the last issued value.
type Clock struct {
	last int64
}

// Now returns the next timestamp.
func (c *Clock) Now() int64 {
	t := time.Now().UnixMilli()
	if t < c.last {
		t = c.last
	}
	c.last = t
	return t
}

// NewStreamID synthesizes a stream-scoped event id for vendors that do not
// supply one.
func NewStreamID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
