package scene

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"go.uber.org/zap"
)

// SceneBuilderOption is a functional option for configuring a Scene.
type SceneBuilderOption func(*scene)

// WithActive sets the initial active state of the scene. Scenes are active by default.
//
// Parameters:
//   - active: whether the scene should be active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active.Store(active)
	}
}

// WithLoader sets where shader sources are read from. Defaults to the embedded assets.
func WithLoader(l loader.Loader) SceneBuilderOption {
	return func(s *scene) {
		s.loader = l
	}
}

// WithComputeShader sets the compute shader reference and entry point.
//
// Parameters:
//   - ref: the shader path known to the loader, empty keeps the variant default
//   - entryPoint: the @compute function name
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithComputeShader(ref, entryPoint string) SceneBuilderOption {
	return func(s *scene) {
		s.shaderRef = ref
		if entryPoint != "" {
			s.entryPoint = entryPoint
		}
	}
}

// WithDisplayShader sets the sprite shader reference.
func WithDisplayShader(ref string) SceneBuilderOption {
	return func(s *scene) {
		s.displayRef = ref
	}
}

// WithDisplayFactor sets the integer scale between the compute texture and the window.
func WithDisplayFactor(factor uint32) SceneBuilderOption {
	return func(s *scene) {
		s.displayFactor = factor
	}
}

// WithWorkgroupSize sets the workgroup edge length. It must match the shader's @workgroup_size.
func WithWorkgroupSize(size uint32) SceneBuilderOption {
	return func(s *scene) {
		s.workgroupSize = size
	}
}

// WithCacheCapacity bounds the number of compiled pipelines kept alive.
func WithCacheCapacity(capacity int) SceneBuilderOption {
	return func(s *scene) {
		s.capacity = capacity
	}
}

// WithCompileWorkers sets how many pipelines may compile concurrently.
func WithCompileWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		s.workers = n
	}
}

// WithShaderValidator replaces the WGSL validator of the compute and display shaders.
// Nil disables validation.
func WithShaderValidator(validator func(source string) error) SceneBuilderOption {
	return func(s *scene) {
		s.validator = validator
		s.validatorSet = true
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *zap.Logger) SceneBuilderOption {
	return func(s *scene) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors shared by every component.
func WithMetrics(m *metrics.Metrics) SceneBuilderOption {
	return func(s *scene) {
		s.metrics = m
	}
}
