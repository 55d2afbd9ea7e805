package base

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockNeverDecreases(t *testing.T) {
	var c Clock
	last := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		assert.GreaterOrEqual(t, next, last)
		last = next
	}
}

func TestClockClampsBackwardSteps(t *testing.T) {
	c := Clock{last: 1 << 60} // far future
	assert.Equal(t, int64(1<<60), c.Now())
}

func TestNewStreamID(t *testing.T) {
	a := NewStreamID("chatcmpl")
	b := NewStreamID("chatcmpl")

	assert.True(t, strings.HasPrefix(a, "chatcmpl_"))
	assert.NotEqual(t, a, b)
}
