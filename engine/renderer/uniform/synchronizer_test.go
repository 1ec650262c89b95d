package uniform

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffers(t *testing.T, dev *devicetest.Device) (*devicetest.Buffer, *devicetest.Buffer) {
	t.Helper()
	staging, err := dev.CreateBuffer(device.BufferDescriptor{Label: "staging", Size: BlockSize, Usage: wgpu.BufferUsageMapWrite | wgpu.BufferUsageCopySrc})
	require.NoError(t, err)
	uniform, err := dev.CreateBuffer(device.BufferDescriptor{Label: "uniform", Size: BlockSize, Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst})
	require.NoError(t, err)
	return staging.(*devicetest.Buffer), uniform.(*devicetest.Buffer)
}

func TestBlockBytes(t *testing.T) {
	b := Block{Time: 0x01020304}
	require.Len(t, b.Bytes(), BlockSize)
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b.Bytes()))
}

func TestPrepareWritesCounterEachTick(t *testing.T) {
	dev := devicetest.New()
	staging, _ := newBuffers(t, dev)
	s := NewSynchronizer(dev)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Prepare(staging))
		assert.Equal(t, uint32(i), s.Snapshot().Time)
		assert.Equal(t, uint32(i), binary.LittleEndian.Uint32(staging.Data))
		assert.False(t, s.InFlight())
		assert.False(t, staging.Mapped())
	}
	assert.Equal(t, 3, staging.Unmaps)
	assert.Equal(t, 3, dev.WaitPolls)
}

func TestPrepareSkipsWhileMapInFlight(t *testing.T) {
	dev := devicetest.New()
	dev.HoldMaps = true
	staging, _ := newBuffers(t, dev)
	m := metrics.New()
	s := NewSynchronizer(dev, WithMetrics(m))

	require.NoError(t, s.Prepare(staging))
	require.NoError(t, s.Prepare(staging))
	require.NoError(t, s.Prepare(staging))

	assert.True(t, s.InFlight())
	assert.Equal(t, 1, dev.PendingMaps())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UniformMaps.WithLabelValues("issued")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UniformMaps.WithLabelValues("skipped")))

	// The late callback writes the value current when it fires, not when it was issued.
	dev.FlushMaps()
	assert.False(t, s.InFlight())
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(staging.Data))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.UniformTime))

	require.NoError(t, s.Prepare(staging))
	assert.True(t, s.InFlight())
	assert.Equal(t, 1, dev.PendingMaps())
}

func TestPrepareReportsMapFailure(t *testing.T) {
	dev := devicetest.New()
	dev.FailMaps = true
	staging, _ := newBuffers(t, dev)
	s := NewSynchronizer(dev)

	err := s.Prepare(staging)
	require.ErrorIs(t, err, ErrMapFailed)
	assert.False(t, s.InFlight())

	// The failure is sticky.
	dev.FailMaps = false
	assert.ErrorIs(t, s.Prepare(staging), ErrMapFailed)
}

func TestPrepareRejectedMapReleasesGate(t *testing.T) {
	dev := devicetest.New()
	dev.RejectMaps = true
	staging, _ := newBuffers(t, dev)
	m := metrics.New()
	s := NewSynchronizer(dev, WithMetrics(m))

	done := make(chan error, 1)
	go func() { done <- s.Prepare(staging) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrMapFailed)
		assert.ErrorContains(t, err, "staging")
	case <-time.After(2 * time.Second):
		t.Fatal("Prepare blocked after a rejected map request")
	}
	assert.False(t, s.InFlight())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UniformMaps.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UniformMaps.WithLabelValues("rejected")))

	// The gate is free again, so a later tick issues a fresh request.
	dev.RejectMaps = false
	assert.ErrorIs(t, s.Prepare(staging), ErrMapFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UniformMaps.WithLabelValues("issued")))
}

func TestPrepareReportsUnmapFailure(t *testing.T) {
	dev := devicetest.New()
	dev.FailUnmaps = true
	staging, _ := newBuffers(t, dev)
	s := NewSynchronizer(dev)

	err := s.Prepare(staging)
	require.ErrorIs(t, err, ErrMapFailed)
	assert.ErrorIs(t, err, devicetest.ErrInjected)
	assert.False(t, s.InFlight())
	assert.False(t, staging.Mapped())
}

func TestPrepareNonBlockingPoll(t *testing.T) {
	dev := devicetest.New()
	staging, _ := newBuffers(t, dev)
	s := NewSynchronizer(dev, WithPollWait(false))

	require.NoError(t, s.Prepare(staging))
	assert.Equal(t, 1, dev.Polls)
	assert.Equal(t, 0, dev.WaitPolls)
}

func TestRecordCopy(t *testing.T) {
	dev := devicetest.New()
	staging, uniform := newBuffers(t, dev)
	s := NewSynchronizer(dev)
	require.NoError(t, s.Prepare(staging))

	enc, err := dev.CreateCommandEncoder("frame")
	require.NoError(t, err)
	require.NoError(t, s.RecordCopy(enc, staging, uniform))

	if diff := cmp.Diff([]string{"copy staging->uniform 4"}, enc.(*devicetest.Encoder).Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(uniform.Data))
}

func TestRecordCopyRejectsWrongUsage(t *testing.T) {
	dev := devicetest.New()
	staging, _ := newBuffers(t, dev)
	s := NewSynchronizer(dev)

	bad, err := dev.CreateBuffer(device.BufferDescriptor{Label: "bad", Size: BlockSize, Usage: wgpu.BufferUsageUniform})
	require.NoError(t, err)
	enc, err := dev.CreateCommandEncoder("frame")
	require.NoError(t, err)
	assert.Error(t, s.RecordCopy(enc, staging, bad))
}
