// Package display draws a compute output texture to the window. It knows nothing of
// the compute pipeline; it is handed textures and shows whichever one the sprite
// currently selects.
package display

import (
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// ConstantDisplayFactor is the //@oxy:const key the sprite shader reads its scale from.
const ConstantDisplayFactor = "display_factor"

type display struct {
	dev          device.Device
	logger       *zap.Logger
	validator    func(string) error
	validatorSet bool

	pipeline  pipeline.Pipeline
	layout    device.BindGroupLayout
	textures  []device.Texture
	providers []bind_group_provider.BindGroupProvider
}

// Display owns the sprite render pipeline description and one bind group per texture.
type Display interface {
	// Pipeline returns the render pipeline description. The renderer creates the GPU
	// pipeline from it.
	Pipeline() pipeline.Pipeline

	// BindGroupLayout returns the layout of the texture bind group.
	BindGroupLayout() device.BindGroupLayout

	// Prepare builds one bind group per sprite texture. Groups are rebuilt only when the
	// sprite's textures change identity.
	//
	// Parameters:
	//   - sprite: the sprite to draw
	//
	// Returns:
	//   - error: an error if bind group creation fails
	Prepare(sprite *Sprite) error

	// BindGroup returns the bind group of the sprite's current texture, or nil before
	// Prepare.
	BindGroup(sprite *Sprite) device.BindGroup

	// Release destroys the bind groups and the layout.
	Release()
}

var _ Display = &display{}

// NewDisplay parses the sprite shader and creates its bind group layout.
//
// Parameters:
//   - dev: the device bind groups are created on
//   - source: WGSL with a vs_main vertex and fs_main fragment entry point
//   - scale: the integer display factor bound to DISPLAY_FACTOR
//   - options: optional DisplayBuilderOption values
//
// Returns:
//   - Display: the display
//   - error: an error if the shader is invalid or the layout cannot be created
func NewDisplay(dev device.Device, source string, scale uint32, options ...DisplayBuilderOption) (Display, error) {
	if scale == 0 {
		return nil, fmt.Errorf("display factor must be positive")
	}
	d := &display{dev: dev}
	for _, opt := range options {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}

	shaderOptions := []shader.ShaderBuilderOption{shader.WithConstant(ConstantDisplayFactor, scale)}
	if d.validatorSet {
		shaderOptions = append(shaderOptions, shader.WithValidator(d.validator))
	}
	vs, err := shader.NewShader("sprite.vertex", shader.ShaderTypeVertex, source, shaderOptions...)
	if err != nil {
		return nil, err
	}
	fs, err := shader.NewShader("sprite.fragment", shader.ShaderTypeFragment, source, shaderOptions...)
	if err != nil {
		return nil, err
	}

	layout, err := dev.CreateBindGroupLayout(fs.BindGroupLayoutDescriptor(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create sprite bind group layout: %w", err)
	}
	d.layout = layout
	d.pipeline = pipeline.NewPipeline("sprite", pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithTopology(wgpu.PrimitiveTopologyTriangleList),
	)
	return d, nil
}

func (d *display) Pipeline() pipeline.Pipeline {
	return d.pipeline
}

func (d *display) BindGroupLayout() device.BindGroupLayout {
	return d.layout
}

func (d *display) Prepare(sprite *Sprite) error {
	if d.providers != nil && slices.Equal(d.textures, sprite.Textures()) {
		return nil
	}

	providers := make([]bind_group_provider.BindGroupProvider, 0, len(sprite.Textures()))
	for i, tex := range sprite.Textures() {
		p := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("sprite %d", i),
			bind_group_provider.WithTextureView(0, tex.View()),
		)
		if err := p.Init(d.dev, d.layout); err != nil {
			for _, created := range providers {
				created.Release()
			}
			return fmt.Errorf("failed to create sprite bind group %d: %w", i, err)
		}
		providers = append(providers, p)
	}

	d.releaseGroups()
	d.providers = providers
	d.textures = slices.Clone(sprite.Textures())
	d.logger.Debug("built sprite bind groups", zap.Int("count", len(providers)))
	return nil
}

func (d *display) BindGroup(sprite *Sprite) device.BindGroup {
	i := sprite.Index()
	if i >= len(d.providers) {
		return nil
	}
	return d.providers[i].BindGroup()
}

func (d *display) releaseGroups() {
	for _, p := range d.providers {
		p.Release()
	}
	d.providers = nil
	d.textures = nil
}

func (d *display) Release() {
	d.releaseGroups()
	if d.pipeline != nil {
		d.pipeline.Release()
	}
	if d.layout != nil {
		d.layout.Release()
		d.layout = nil
	}
}
