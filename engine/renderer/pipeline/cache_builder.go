package pipeline

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"go.uber.org/zap"
)

// CacheBuilderOption configures a Cache.
type CacheBuilderOption func(*cache)

// WithCapacity sets how many compiled pipelines are kept before the least recently used
// one is released.
//
// Parameters:
//   - capacity: the maximum number of live pipelines, must be positive
//
// Returns:
//   - CacheBuilderOption: a function that sets the capacity
func WithCapacity(capacity int) CacheBuilderOption {
	return func(c *cache) {
		c.capacity = capacity
	}
}

// WithValidator replaces the WGSL validator run before pipeline creation.
//
// Parameters:
//   - validator: returns a diagnostic for invalid WGSL
//
// Returns:
//   - CacheBuilderOption: a function that sets the validator
func WithValidator(validator func(source string) error) CacheBuilderOption {
	return func(c *cache) {
		c.shaderOptions = append(c.shaderOptions, shader.WithValidator(validator))
	}
}

// WithLogger sets the cache's logger.
func WithLogger(logger *zap.Logger) CacheBuilderOption {
	return func(c *cache) {
		c.logger = logger
	}
}

// WithMetrics sets the collectors updated on compilation.
func WithMetrics(m *metrics.Metrics) CacheBuilderOption {
	return func(c *cache) {
		c.metrics = m
	}
}

// WithWorkers sets how many pipelines may compile concurrently.
//
// Parameters:
//   - n: the number of compile workers (minimum 1)
//
// Returns:
//   - CacheBuilderOption: a function that sets the worker count
func WithWorkers(n int) CacheBuilderOption {
	return func(c *cache) {
		c.workers = max(n, 1)
	}
}
