package resources

import (
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// PoolBuilderOption configures a Pool during construction.
type PoolBuilderOption func(*pool)

// WithTextureUsage overrides the usage flags output textures are created with. Usages
// lacking any RequiredTextureUsage flag make NewPool fail.
//
// Parameters:
//   - usage: the texture usage flags
//
// Returns:
//   - PoolBuilderOption: a function that sets the texture usage
func WithTextureUsage(usage wgpu.TextureUsage) PoolBuilderOption {
	return func(p *pool) {
		p.textureUsage = usage
	}
}

// WithLogger sets the pool's logger.
func WithLogger(logger *zap.Logger) PoolBuilderOption {
	return func(p *pool) {
		p.logger = logger
	}
}
