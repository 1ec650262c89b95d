package bind_group_provider

import (
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"go.uber.org/zap"
)

// Resources are the handles extracted for one frame. The builder compares them by
// identity against the handles its bind groups were built from.
type Resources struct {
	Variant  resources.Variant
	Layout   device.BindGroupLayout
	Textures []device.Texture
	Uniform  device.Buffer
}

func (r Resources) equal(o Resources) bool {
	return r.Variant == o.Variant &&
		r.Layout == o.Layout &&
		r.Uniform == o.Uniform &&
		slices.Equal(r.Textures, o.Textures)
}

type builder struct {
	dev       device.Device
	logger    *zap.Logger
	metrics   *metrics.Metrics
	built     *Resources
	providers []BindGroupProvider
}

// Builder keeps the bind groups a compute dispatch selects from.
type Builder interface {
	// Prepare rebuilds the bind groups when any extracted handle differs from the ones
	// they were built from. The ping-pong variant builds two groups, indexed by parity;
	// the uniform variant builds one.
	//
	// Parameters:
	//   - res: the handles extracted this frame
	//
	// Returns:
	//   - bool: true if the bind groups were rebuilt
	//   - error: an error if the handles are incomplete or creation fails
	Prepare(res Resources) (bool, error)

	// BindGroup returns the bind group for a parity. The uniform variant returns its
	// single group for every parity. Nil before the first successful Prepare.
	//
	// Parameters:
	//   - parity: the node's frame parity
	//
	// Returns:
	//   - device.BindGroup: the selected bind group
	BindGroup(parity uint32) device.BindGroup

	// Providers returns the providers built by the last Prepare.
	Providers() []BindGroupProvider

	// Release destroys every bind group.
	Release()
}

var _ Builder = &builder{}

// NewBuilder creates a Builder with no bind groups.
//
// Parameters:
//   - dev: the device bind groups are created on
//   - options: optional BuilderOption values
//
// Returns:
//   - Builder: the new builder
func NewBuilder(dev device.Device, options ...BuilderOption) Builder {
	b := &builder{dev: dev}
	for _, opt := range options {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}
	return b
}

func (b *builder) Prepare(res Resources) (bool, error) {
	if b.built != nil && b.built.equal(res) {
		return false, nil
	}

	providers, err := providersFor(res)
	if err != nil {
		return false, err
	}
	for _, p := range providers {
		if err := p.Init(b.dev, res.Layout); err != nil {
			for _, created := range providers {
				created.Release()
			}
			return false, fmt.Errorf("failed to create bind group %s: %w", p.Label(), err)
		}
	}

	b.Release()
	b.providers = providers
	built := res
	built.Textures = slices.Clone(res.Textures)
	b.built = &built

	b.metrics.BindGroupBuilds.Add(float64(len(providers)))
	b.logger.Debug("built compute bind groups", zap.Stringer("variant", res.Variant), zap.Int("count", len(providers)))
	return true, nil
}

func providersFor(res Resources) ([]BindGroupProvider, error) {
	if res.Layout == nil {
		return nil, fmt.Errorf("no bind group layout extracted")
	}

	switch res.Variant {
	case resources.VariantPingPong:
		if len(res.Textures) != 2 {
			return nil, fmt.Errorf("ping-pong needs 2 textures, got %d", len(res.Textures))
		}
		// Parity n writes texture 1-n and reads texture n.
		return []BindGroupProvider{
			NewBindGroupProvider("pingpong 0",
				WithTextureView(0, res.Textures[1].View()),
				WithTextureView(1, res.Textures[0].View()),
			),
			NewBindGroupProvider("pingpong 1",
				WithTextureView(0, res.Textures[0].View()),
				WithTextureView(1, res.Textures[1].View()),
			),
		}, nil
	case resources.VariantUniform:
		if len(res.Textures) != 1 {
			return nil, fmt.Errorf("uniform variant needs 1 texture, got %d", len(res.Textures))
		}
		if res.Uniform == nil {
			return nil, fmt.Errorf("uniform variant needs a uniform buffer")
		}
		return []BindGroupProvider{
			NewBindGroupProvider("uniform",
				WithTextureView(0, res.Textures[0].View()),
				WithBuffer(1, res.Uniform),
			),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported variant %s", res.Variant)
	}
}

func (b *builder) BindGroup(parity uint32) device.BindGroup {
	if len(b.providers) == 0 {
		return nil
	}
	return b.providers[int(parity)%len(b.providers)].BindGroup()
}

func (b *builder) Providers() []BindGroupProvider {
	return b.providers
}

func (b *builder) Release() {
	for _, p := range b.providers {
		p.Release()
	}
	b.providers = nil
	b.built = nil
}
