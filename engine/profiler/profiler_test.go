package profiler

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTickReportsOncePerInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New()
	p := NewProfiler(zap.New(core), m)

	start := time.Unix(100, 0)
	clock := start
	p.lastTime = start
	p.now = func() time.Time { return clock }

	for range 29 {
		clock = clock.Add(10 * time.Millisecond)
		_, reported := p.Tick()
		require.False(t, reported)
	}

	clock = start.Add(time.Second)
	s, reported := p.Tick()
	require.True(t, reported)
	assert.InDelta(t, 30.0, s.FPS, 0.001)
	assert.InDelta(t, 30.0, testutil.ToFloat64(m.FPS), 0.001)
	assert.Positive(t, testutil.ToFloat64(m.HeapAlloc))
	assert.Equal(t, 1, logs.FilterMessage("profiler").Len())

	_, reported = p.Tick()
	assert.False(t, reported, "frame count resets after a report")
}

func TestSetIntervalIgnoresNonPositive(t *testing.T) {
	p := NewProfiler(nil, nil)
	p.SetInterval(0)
	assert.Equal(t, time.Second, p.updateInterval)
	p.SetInterval(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, p.updateInterval)
}
