package display

import (
	"os"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spriteSource(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile("../../../assets/shaders/sprite.wgsl")
	require.NoError(t, err)
	return string(src)
}

func textures(t *testing.T, dev *devicetest.Device, variant resources.Variant) []device.Texture {
	t.Helper()
	pool, err := resources.NewPool(dev, variant, 320, 180)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool.Textures()
}

func TestSpriteToggle(t *testing.T) {
	dev := devicetest.New()
	s := NewSprite(textures(t, dev, resources.VariantPingPong), 4)

	assert.Equal(t, "compute texture 0", s.Current().Label())
	s.Toggle()
	assert.Equal(t, "compute texture 1", s.Current().Label())
	s.Toggle()
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, uint32(4), s.Scale())
}

func TestSpriteToggleSingleTexture(t *testing.T) {
	dev := devicetest.New()
	s := NewSprite(textures(t, dev, resources.VariantUniform), 4)
	for range 3 {
		s.Toggle()
		assert.Equal(t, "compute texture 0", s.Current().Label())
	}
}

func TestSpriteToggleConcurrent(t *testing.T) {
	dev := devicetest.New()
	s := NewSprite(textures(t, dev, resources.VariantPingPong), 4)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				s.Toggle()
				_ = s.Current()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.Index())
}

func TestNewDisplay(t *testing.T) {
	dev := devicetest.New()
	d, err := NewDisplay(dev, spriteSource(t), 4, WithValidator(nil))
	require.NoError(t, err)

	p := d.Pipeline()
	vs := p.Shader(shader.ShaderTypeVertex)
	fs := p.Shader(shader.ShaderTypeFragment)
	require.NotNil(t, vs)
	require.NotNil(t, fs)
	assert.Equal(t, "vs_main", vs.EntryPoint())
	assert.Equal(t, "fs_main", fs.EntryPoint())
	assert.Contains(t, fs.Source(), "const DISPLAY_FACTOR: u32 = 4u;")
	assert.Equal(t, wgpu.PrimitiveTopologyTriangleList, p.Topology())

	require.Len(t, dev.Layouts, 1)
	entries := dev.Layouts[0].Desc.Entries
	require.Len(t, entries, 1)
	assert.Equal(t, wgpu.TextureSampleTypeUnfilterableFloat, entries[0].Texture.SampleType)
	assert.Equal(t, wgpu.ShaderStageFragment, entries[0].Visibility)
}

func TestNewDisplayRejectsZeroScale(t *testing.T) {
	_, err := NewDisplay(devicetest.New(), spriteSource(t), 0, WithValidator(nil))
	assert.Error(t, err)
}

func TestDisplayFollowsSprite(t *testing.T) {
	dev := devicetest.New()
	s := NewSprite(textures(t, dev, resources.VariantPingPong), 4)
	d, err := NewDisplay(dev, spriteSource(t), 4, WithValidator(nil))
	require.NoError(t, err)

	assert.Nil(t, d.BindGroup(s))
	require.NoError(t, d.Prepare(s))
	require.NoError(t, d.Prepare(s))
	require.Len(t, dev.BindGroups, 2)

	assert.Equal(t, "sprite 0", d.BindGroup(s).Label())
	s.Toggle()
	assert.Equal(t, "sprite 1", d.BindGroup(s).Label())

	layout, ok := d.BindGroupLayout().(*devicetest.BindGroupLayout)
	require.True(t, ok)
	require.NotSame(t, dev.Layouts[0], layout)

	d.Release()
	for _, bg := range dev.BindGroups {
		assert.True(t, bg.Released)
	}
	assert.True(t, layout.Released)
	// The compute layout belongs to the pool and outlives the display.
	assert.False(t, dev.Layouts[0].Released)
}
