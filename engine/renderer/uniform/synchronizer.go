// Package uniform keeps the GPU uniform block in step with the simulation clock. The
// counter advances once per tick and reaches the GPU through a mapped staging buffer
// followed by a buffer-to-buffer copy recorded ahead of each dispatch.
package uniform

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// ErrMapFailed is returned once a staging map completes with a non-success status.
var ErrMapFailed = errors.New("staging buffer map failed")

type synchronizer struct {
	dev      device.Device
	logger   *zap.Logger
	metrics  *metrics.Metrics
	pollWait bool

	time atomic.Uint32

	// gate holds a token while a map request is outstanding. Each request drains it
	// exactly once, from the callback or from a rejected MapAsync.
	gate chan struct{}

	mu      sync.Mutex
	failure error
}

// Synchronizer advances the time counter and mirrors it into the staging buffer.
type Synchronizer interface {
	// Prepare advances the counter by one, issues a map request on the staging buffer
	// unless one is already in flight, and polls the device. The callback writes the
	// counter value current when it fires, so skipped ticks are never queued.
	//
	// Parameters:
	//   - staging: the MapWrite|CopySrc buffer the counter is written into
	//
	// Returns:
	//   - error: an error wrapping ErrMapFailed if any map callback reported failure,
	//     or the error returned when issuing the map request
	Prepare(staging device.Buffer) error

	// RecordCopy records the staging to uniform copy of exactly BlockSize bytes. It must
	// be recorded before the dispatch that reads the uniform.
	//
	// Parameters:
	//   - enc: the encoder the dispatch will be recorded into
	//   - staging: the source buffer
	//   - uniform: the destination uniform buffer
	//
	// Returns:
	//   - error: an error if the copy could not be recorded
	RecordCopy(enc device.CommandEncoder, staging, uniform device.Buffer) error

	// Snapshot returns the current counter value.
	//
	// Returns:
	//   - Block: the host-side block
	Snapshot() Block

	// InFlight reports whether a map request is outstanding.
	//
	// Returns:
	//   - bool: true while a map callback is pending
	InFlight() bool
}

var _ Synchronizer = &synchronizer{}

// NewSynchronizer creates a Synchronizer starting at time zero.
//
// Parameters:
//   - dev: the device polled each tick
//   - options: optional SynchronizerBuilderOption values
//
// Returns:
//   - Synchronizer: the new synchronizer
func NewSynchronizer(dev device.Device, options ...SynchronizerBuilderOption) Synchronizer {
	s := &synchronizer{
		dev:      dev,
		pollWait: true,
		gate:     make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

func (s *synchronizer) Prepare(staging device.Buffer) error {
	s.time.Add(1)

	select {
	case s.gate <- struct{}{}:
		var once sync.Once
		release := func() { once.Do(func() { <-s.gate }) }
		err := staging.MapAsync(wgpu.MapModeWrite, 0, BlockSize, func(status wgpu.BufferMapAsyncStatus) {
			defer release()
			s.onMapped(staging, status)
		})
		if err != nil {
			// wgpu may already have fired the callback with an error status.
			release()
			s.metrics.UniformMaps.WithLabelValues("rejected").Inc()
			s.fail(fmt.Errorf("%w: %s: %w", ErrMapFailed, staging.Label(), err))
			return s.err()
		}
		s.metrics.UniformMaps.WithLabelValues("issued").Inc()
	default:
		s.metrics.UniformMaps.WithLabelValues("skipped").Inc()
	}

	s.dev.Poll(s.pollWait)
	return s.err()
}

func (s *synchronizer) onMapped(staging device.Buffer, status wgpu.BufferMapAsyncStatus) {
	if status != wgpu.BufferMapAsyncStatusSuccess {
		s.metrics.UniformMaps.WithLabelValues("failed").Inc()
		s.fail(fmt.Errorf("%w: %s: %v", ErrMapFailed, staging.Label(), status))
		return
	}

	block := s.Snapshot()
	copy(staging.MappedRange(0, BlockSize), block.Bytes())
	if err := staging.Unmap(); err != nil {
		s.metrics.UniformMaps.WithLabelValues("failed").Inc()
		s.fail(fmt.Errorf("%w: unmap %s: %w", ErrMapFailed, staging.Label(), err))
		return
	}

	s.metrics.UniformMaps.WithLabelValues("completed").Inc()
	s.metrics.UniformTime.Set(float64(block.Time))
}

// fail records the first map failure. Later ones are logged only.
func (s *synchronizer) fail(err error) {
	s.logger.Error("staging map failed", zap.Error(err))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
}

func (s *synchronizer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *synchronizer) RecordCopy(enc device.CommandEncoder, staging, uniform device.Buffer) error {
	if err := enc.CopyBufferToBuffer(staging, 0, uniform, 0, BlockSize); err != nil {
		return fmt.Errorf("failed to record uniform copy: %w", err)
	}
	s.metrics.UniformCopies.Inc()
	return nil
}

func (s *synchronizer) Snapshot() Block {
	return Block{Time: s.time.Load()}
}

func (s *synchronizer) InFlight() bool {
	return len(s.gate) == 1
}
