package uniform

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"go.uber.org/zap"
)

// SynchronizerBuilderOption configures a Synchronizer.
type SynchronizerBuilderOption func(*synchronizer)

// WithPollWait selects a blocking (true, the default) or non-blocking device poll.
// A non-blocking poll can leave the staging buffer mapped at submit time, which a real
// device rejects, so only tests that never submit the copy should turn it off.
//
// Parameters:
//   - wait: whether Prepare blocks until submitted work completes
//
// Returns:
//   - SynchronizerBuilderOption: a function that sets the poll mode
func WithPollWait(wait bool) SynchronizerBuilderOption {
	return func(s *synchronizer) {
		s.pollWait = wait
	}
}

// WithLogger sets the logger used to report map failures.
func WithLogger(logger *zap.Logger) SynchronizerBuilderOption {
	return func(s *synchronizer) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors updated on each map request.
func WithMetrics(m *metrics.Metrics) SynchronizerBuilderOption {
	return func(s *synchronizer) {
		s.metrics = m
	}
}
