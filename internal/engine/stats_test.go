package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencySummary(t *testing.T) {
	var l latencies
	assert.Equal(t, Latency{}, l.summary())

	for i := 1; i <= 20; i++ {
		l.add(time.Duration(i) * time.Millisecond)
	}
	s := l.summary()
	assert.Equal(t, 20, s.Samples)
	assert.InDelta(t, 10.5, s.Mean, 1e-9)
	assert.InDelta(t, 19, s.P95, 1e-9)
	assert.InDelta(t, 20, s.Max, 1e-9)
	assert.Greater(t, s.StdDev, 0.0)
}

func TestLatencyWindowWraps(t *testing.T) {
	var l latencies
	for i := 0; i < latencyWindow+10; i++ {
		l.add(time.Millisecond)
	}
	l.add(100 * time.Millisecond)

	s := l.summary()
	assert.Equal(t, latencyWindow, s.Samples)
	assert.InDelta(t, 100, s.Max, 1e-9)
}
