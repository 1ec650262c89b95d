package bind_group_provider

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"go.uber.org/zap"
)

// BuilderOption configures a Builder.
type BuilderOption func(*builder)

// WithLogger sets the builder's logger.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *builder) {
		b.logger = logger
	}
}

// WithMetrics sets the collectors updated when bind groups are built.
func WithMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *builder) {
		b.metrics = m
	}
}
