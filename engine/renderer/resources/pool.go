// Package resources owns the GPU objects a compute node dispatches against: the output
// textures, the staging and uniform buffers and the bind group layout they are bound
// through. Everything is created once and lives until Release.
package resources

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/uniform"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// ErrTextureUsage is returned when an output texture cannot be written by a compute
// shader, sampled and copied into at the same time.
var ErrTextureUsage = errors.New("texture usage must include storage binding, texture binding and copy destination")

// RequiredTextureUsage is the minimum usage of every output texture.
const RequiredTextureUsage = wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst

const (
	stagingUsage = wgpu.BufferUsageMapWrite | wgpu.BufferUsageCopySrc
	uniformUsage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
)

// ValidateTextureUsage reports whether usage carries every RequiredTextureUsage flag.
//
// Parameters:
//   - usage: the usage flags to check
//
// Returns:
//   - error: an error wrapping ErrTextureUsage naming the missing flags, or nil
func ValidateTextureUsage(usage wgpu.TextureUsage) error {
	missing := RequiredTextureUsage &^ usage
	if missing == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %v", ErrTextureUsage, missing)
}

type pool struct {
	variant Variant
	width   uint32
	height  uint32

	textureUsage wgpu.TextureUsage
	logger       *zap.Logger

	dev      device.Device
	textures []device.Texture
	staging  device.Buffer
	uniform  device.Buffer
	layout   device.BindGroupLayout
}

// Pool holds the GPU resources of one compute node.
type Pool interface {
	// Variant returns the buffering variant the pool was created for.
	Variant() Variant

	// Size returns the width and height of every output texture.
	Size() (width, height uint32)

	// Textures returns the output textures. The slice has one element in the uniform
	// variant and two in the ping-pong variant.
	Textures() []device.Texture

	// StagingBuffer returns the MapWrite|CopySrc buffer the time block is written into,
	// or nil in the ping-pong variant.
	StagingBuffer() device.Buffer

	// UniformBuffer returns the GPU-only buffer bound to the shader, or nil in the
	// ping-pong variant.
	UniformBuffer() device.Buffer

	// Contract returns the bind group the compute shader must declare.
	Contract() shader.Contract

	// LayoutDescriptor returns the descriptor BindGroupLayout was created from.
	LayoutDescriptor() wgpu.BindGroupLayoutDescriptor

	// BindGroupLayout returns the created bind group layout.
	BindGroupLayout() device.BindGroupLayout

	// ReallocateUniform replaces the uniform buffer with a fresh allocation. Bind groups
	// referencing the old buffer must be rebuilt.
	//
	// Returns:
	//   - error: an error if the pool has no uniform buffer or allocation fails
	ReallocateUniform() error

	// Release destroys every resource owned by the pool.
	Release()
}

var _ Pool = &pool{}

// NewPool creates the output textures, buffers and bind group layout for a variant.
//
// Parameters:
//   - dev: the device resources are created on
//   - variant: the buffering variant
//   - width: texture width in texels
//   - height: texture height in texels
//   - options: optional PoolBuilderOption values
//
// Returns:
//   - Pool: the populated pool
//   - error: an error wrapping ErrTextureUsage if a texture lacks a required usage,
//     or any creation error
func NewPool(dev device.Device, variant Variant, width, height uint32, options ...PoolBuilderOption) (Pool, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("invalid texture size %dx%d", width, height)
	}
	if variant != VariantPingPong && variant != VariantUniform {
		return nil, fmt.Errorf("unsupported variant %s", variant)
	}

	p := &pool{
		variant:      variant,
		width:        width,
		height:       height,
		textureUsage: RequiredTextureUsage,
		dev:          dev,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	if err := p.create(); err != nil {
		p.Release()
		return nil, err
	}

	p.logger.Info("created compute resources",
		zap.Stringer("variant", variant),
		zap.Uint32("width", width),
		zap.Uint32("height", height),
		zap.Int("textures", len(p.textures)),
	)
	return p, nil
}

func (p *pool) create() error {
	for i := range p.variant.TextureCount() {
		tex, err := p.dev.CreateTexture(device.TextureDescriptor{
			Label:  fmt.Sprintf("compute texture %d", i),
			Width:  p.width,
			Height: p.height,
			Format: TextureFormat,
			Usage:  p.textureUsage,
		})
		if err != nil {
			return fmt.Errorf("failed to create compute texture %d: %w", i, err)
		}
		p.textures = append(p.textures, tex)

		if err := ValidateTextureUsage(tex.Usage()); err != nil {
			return fmt.Errorf("%s: %w", tex.Label(), err)
		}
	}

	if p.variant == VariantUniform {
		staging, err := p.dev.CreateBuffer(device.BufferDescriptor{Label: "staging", Size: uniform.BlockSize, Usage: stagingUsage})
		if err != nil {
			return fmt.Errorf("failed to create staging buffer: %w", err)
		}
		p.staging = staging

		if err := p.ReallocateUniform(); err != nil {
			return err
		}
	}

	layout, err := p.dev.CreateBindGroupLayout(p.LayoutDescriptor())
	if err != nil {
		return fmt.Errorf("failed to create bind group layout: %w", err)
	}
	p.layout = layout
	return nil
}

func (p *pool) Variant() Variant {
	return p.variant
}

func (p *pool) Size() (uint32, uint32) {
	return p.width, p.height
}

func (p *pool) Textures() []device.Texture {
	return p.textures
}

func (p *pool) StagingBuffer() device.Buffer {
	return p.staging
}

func (p *pool) UniformBuffer() device.Buffer {
	return p.uniform
}

func (p *pool) Contract() shader.Contract {
	return Contract(p.variant)
}

func (p *pool) LayoutDescriptor() wgpu.BindGroupLayoutDescriptor {
	return p.Contract().Descriptor()
}

func (p *pool) BindGroupLayout() device.BindGroupLayout {
	return p.layout
}

func (p *pool) ReallocateUniform() error {
	if p.variant != VariantUniform {
		return fmt.Errorf("%s variant has no uniform buffer", p.variant)
	}
	buf, err := p.dev.CreateBuffer(device.BufferDescriptor{Label: "uniform", Size: uniform.BlockSize, Usage: uniformUsage})
	if err != nil {
		return fmt.Errorf("failed to create uniform buffer: %w", err)
	}
	if p.uniform != nil {
		p.uniform.Release()
	}
	p.uniform = buf
	return nil
}

func (p *pool) Release() {
	for _, t := range p.textures {
		t.Release()
	}
	p.textures = nil
	if p.staging != nil {
		p.staging.Release()
		p.staging = nil
	}
	if p.uniform != nil {
		p.uniform.Release()
		p.uniform = nil
	}
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
}
