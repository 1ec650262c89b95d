package driver

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/display"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	dev := devicetest.New()
	pool, err := resources.NewPool(dev, resources.VariantUniform, 320, 180)
	require.NoError(t, err)
	d := NewDriver(pool, display.NewSprite(pool.Textures(), 4), nil)

	var ctx FrameContext
	d.Extract(&ctx)
	assert.Equal(t, uint64(1), ctx.Frame)
	assert.Equal(t, resources.VariantUniform, ctx.Resources.Variant)
	assert.Same(t, pool.UniformBuffer(), ctx.Resources.Uniform)
	assert.Same(t, pool.StagingBuffer(), ctx.Staging)
	assert.Same(t, pool.BindGroupLayout(), ctx.Resources.Layout)
	assert.Equal(t, uint32(320), ctx.Width)
	assert.Equal(t, uint32(180), ctx.Height)

	require.NoError(t, pool.ReallocateUniform())
	d.Extract(&ctx)
	assert.Equal(t, uint64(2), ctx.Frame)
	assert.Same(t, pool.UniformBuffer(), ctx.Resources.Uniform)
}

func TestTickTogglesIndependentlyOfFrames(t *testing.T) {
	dev := devicetest.New()
	pool, err := resources.NewPool(dev, resources.VariantPingPong, 320, 180)
	require.NoError(t, err)
	m := metrics.New()
	d := NewDriver(pool, display.NewSprite(pool.Textures(), 4), m)

	var ctx FrameContext
	var shown []string
	// Three render frames per simulation tick.
	for frame := range 6 {
		if frame%3 == 0 {
			d.Tick()
		}
		d.Extract(&ctx)
		shown = append(shown, ctx.Displayed.Label())
	}
	assert.Equal(t, []string{
		"compute texture 1", "compute texture 1", "compute texture 1",
		"compute texture 0", "compute texture 0", "compute texture 0",
	}, shown)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks))
}
