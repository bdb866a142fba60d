package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsWithinRate(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "call %d should pass", i)
	}
	assert.False(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow())
}
