package node

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"go.uber.org/zap"
)

// NodeBuilderOption configures a Node.
type NodeBuilderOption func(*node)

// WithLabel sets the label used for the compute pass and in logs.
func WithLabel(label string) NodeBuilderOption {
	return func(n *node) {
		n.label = label
	}
}

// WithWorkgroupSize sets the workgroup edge length the dispatch is divided by. It must
// match the shader's @workgroup_size.
//
// Parameters:
//   - size: the workgroup edge length
//
// Returns:
//   - NodeBuilderOption: a function that sets the workgroup size
func WithWorkgroupSize(size uint32) NodeBuilderOption {
	return func(n *node) {
		n.workgroupSize = size
	}
}

// WithUniformCopier sets what records the uniform copy. Required by the uniform variant.
func WithUniformCopier(c UniformCopier) NodeBuilderOption {
	return func(n *node) {
		n.uniforms = c
	}
}

// WithLogger sets the node's logger.
func WithLogger(logger *zap.Logger) NodeBuilderOption {
	return func(n *node) {
		n.logger = logger
	}
}

// WithMetrics sets the collectors updated per tick.
func WithMetrics(m *metrics.Metrics) NodeBuilderOption {
	return func(n *node) {
		n.metrics = m
	}
}
