package scene

import (
	"errors"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/node"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missingUniformShader = `
@group(0) @binding(0) var output: texture_storage_2d<rgba32float, write>;

@compute @workgroup_size(8, 8, 1)
fn checker_board(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(output, vec2<i32>(id.xy), vec4<f32>(1.0));
}
`

func assetFS(t *testing.T) fstest.MapFS {
	t.Helper()
	fsys := fstest.MapFS{}
	for _, name := range []string{"sprite.wgsl", "checker_board_pingpong.wgsl", "checker_board_uniform.wgsl"} {
		data, err := os.ReadFile("../../assets/shaders/" + name)
		require.NoError(t, err)
		fsys["shaders/"+name] = &fstest.MapFile{Data: data}
	}
	return fsys
}

type recordingDrawer struct {
	registered []string
	layouts    int
	draws      []string
}

func (d *recordingDrawer) RegisterPipeline(p pipeline.Pipeline, layouts ...device.BindGroupLayout) error {
	d.registered = append(d.registered, p.PipelineKey())
	d.layouts += len(layouts)
	return nil
}

func (d *recordingDrawer) DrawFullscreen(key string, bg device.BindGroup) error {
	d.draws = append(d.draws, key+" "+bg.Label())
	return nil
}

func newTestScene(t *testing.T, dev *devicetest.Device, variant resources.Variant, fsys fstest.MapFS, opts ...SceneBuilderOption) (Scene, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	l := loader.NewLoader(loader.BackendTypeFile, loader.WithFS(fsys))
	base := []SceneBuilderOption{
		WithLoader(l),
		WithShaderValidator(nil),
		WithMetrics(m),
	}
	s, err := NewScene("checker", dev, variant, 320, 180, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s, m
}

// frame runs one compute frame the way the engine does and returns its commands.
func frame(t *testing.T, dev *devicetest.Device, s Scene) ([]string, error) {
	t.Helper()
	enc, err := dev.CreateCommandEncoder("compute frame")
	require.NoError(t, err)
	if err := s.PrepareCompute(enc); err != nil {
		return nil, err
	}
	cb, err := enc.Finish()
	require.NoError(t, err)
	dev.Submit(cb)
	return cb.(*devicetest.CommandBuffer).Commands, nil
}

// untilReady runs frames until the node leaves Loading, asserting nothing is
// dispatched meanwhile.
func untilReady(t *testing.T, dev *devicetest.Device, s Scene) int {
	t.Helper()
	frames := 0
	require.Eventually(t, func() bool {
		if s.State().Phase == node.PhaseReady {
			return true
		}
		cmds, err := frame(t, dev, s)
		require.NoError(t, err)
		frames++
		if s.State().Phase == node.PhaseLoading {
			assert.NotContains(t, cmds, "dispatch 40 22 1")
		}
		return s.State().Phase == node.PhaseReady
	}, 5*time.Second, 5*time.Millisecond)
	return frames
}

func TestPingPongAlternatesBindGroups(t *testing.T) {
	dev := devicetest.New()
	s, m := newTestScene(t, dev, resources.VariantPingPong, assetFS(t))
	assert.Equal(t, node.PhaseLoading, s.State().Phase)

	untilReady(t, dev, s)
	dispatchesBefore := testutil.ToFloat64(m.Dispatches)

	for i := range 4 {
		parity := s.State().Parity
		cmds, err := frame(t, dev, s)
		require.NoError(t, err)
		want := []string{
			"begin checker board",
			"pipeline checker board",
			map[uint32]string{0: "bindgroup 0 pingpong 0", 1: "bindgroup 0 pingpong 1"}[parity],
			"dispatch 40 22 1",
			"end",
		}
		if diff := cmp.Diff(want, cmds); diff != "" {
			t.Fatalf("frame %d commands (-want +got):\n%s", i, diff)
		}
		assert.NotEqual(t, parity, s.State().Parity, "parity flips after every dispatch")
	}
	assert.Equal(t, dispatchesBefore+4, testutil.ToFloat64(m.Dispatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BindGroupBuilds), "ping-pong groups are built once")
}

func TestUniformCopiesBeforeDispatch(t *testing.T) {
	dev := devicetest.New()
	s, _ := newTestScene(t, dev, resources.VariantUniform, assetFS(t))

	loading := untilReady(t, dev, s)
	assert.Equal(t, uint32(loading), s.Uniform().Time, "counter advances while loading")

	cmds, err := frame(t, dev, s)
	require.NoError(t, err)
	want := []string{
		"copy staging->uniform 4",
		"begin checker board",
		"pipeline checker board",
		"bindgroup 0 uniform",
		"dispatch 40 22 1",
		"end",
	}
	if diff := cmp.Diff(want, cmds); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint32(loading+1), s.Uniform().Time)
	assert.Positive(t, dev.WaitPolls)

	f := s.Frame()
	assert.Equal(t, uint64(loading+1), f.Frame)
	assert.Equal(t, uint32(320), f.Width)
	assert.NotNil(t, f.Resources.Uniform)
}

func TestBadShaderIsFatal(t *testing.T) {
	fsys := assetFS(t)
	fsys["shaders/broken.wgsl"] = &fstest.MapFile{Data: []byte(missingUniformShader)}
	dev := devicetest.New()
	s, _ := newTestScene(t, dev, resources.VariantUniform, fsys, WithComputeShader("shaders/broken.wgsl", ""))

	var fatal error
	require.Eventually(t, func() bool {
		_, fatal = frame(t, dev, s)
		return fatal != nil
	}, 5*time.Second, 5*time.Millisecond)

	var ce *pipeline.CompileError
	require.True(t, errors.As(fatal, &ce))
	assert.Equal(t, "shaders/broken.wgsl", ce.ShaderRef)
	assert.Contains(t, fatal.Error(), "shaders/broken.wgsl")
	assert.Equal(t, node.PhaseLoading, s.State().Phase)
}

func TestMissingDisplayShaderFailsSetup(t *testing.T) {
	fsys := assetFS(t)
	delete(fsys, "shaders/sprite.wgsl")
	l := loader.NewLoader(loader.BackendTypeFile, loader.WithFS(fsys))

	dev := devicetest.New()
	_, err := NewScene("checker", dev, resources.VariantPingPong, 320, 180, WithLoader(l), WithShaderValidator(nil))
	require.Error(t, err)
	for _, tex := range dev.Textures {
		assert.True(t, tex.Released, "resources are released when setup fails")
	}
}

func TestWorkgroupMismatchIsFatal(t *testing.T) {
	dev := devicetest.New()
	s, _ := newTestScene(t, dev, resources.VariantPingPong, assetFS(t), WithWorkgroupSize(16))

	var fatal error
	require.Eventually(t, func() bool {
		_, fatal = frame(t, dev, s)
		return fatal != nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Contains(t, fatal.Error(), "workgroup")
}

func TestDisplayToggleIsIndependentOfParity(t *testing.T) {
	dev := devicetest.New()
	s, m := newTestScene(t, dev, resources.VariantPingPong, assetFS(t))
	drawer := &recordingDrawer{}
	require.NoError(t, s.Init(drawer))
	assert.Equal(t, []string{"sprite"}, drawer.registered)
	assert.Equal(t, 1, drawer.layouts)

	require.NoError(t, s.DrawCalls(drawer))
	s.Tick()
	require.NoError(t, s.DrawCalls(drawer))
	s.Tick()
	s.Tick()
	require.NoError(t, s.DrawCalls(drawer))

	assert.Equal(t, []string{"sprite sprite 0", "sprite sprite 1", "sprite sprite 1"}, drawer.draws)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, node.PhaseLoading, s.State().Phase, "ticks never advance the node")
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev := devicetest.New()
	s, _ := newTestScene(t, dev, resources.VariantUniform, assetFS(t))
	s.Release()
	s.Release()

	for _, tex := range dev.Textures {
		assert.True(t, tex.Released)
	}
	for _, buf := range dev.Buffers {
		assert.True(t, buf.Released)
	}
	_, err := frame(t, dev, s)
	assert.Error(t, err)
}

func TestSetActive(t *testing.T) {
	dev := devicetest.New()
	s, _ := newTestScene(t, dev, resources.VariantPingPong, assetFS(t), WithActive(false))
	assert.False(t, s.Active())
	s.SetActive(true)
	assert.True(t, s.Active())
	assert.Equal(t, "checker", s.Name())
	assert.Equal(t, resources.VariantPingPong, s.Variant())
	assert.Len(t, s.Sprite().Textures(), 2)
}

func TestShippedShadersPassDefaultValidation(t *testing.T) {
	for _, variant := range []resources.Variant{resources.VariantPingPong, resources.VariantUniform} {
		t.Run(variant.String(), func(t *testing.T) {
			dev := devicetest.New()
			l := loader.NewLoader(loader.BackendTypeFile, loader.WithFS(assetFS(t)))
			s, err := NewScene("checker", dev, variant, 320, 180, WithLoader(l), WithMetrics(metrics.New()))
			require.NoError(t, err)
			t.Cleanup(s.Release)

			untilReady(t, dev, s)
			cmds, err := frame(t, dev, s)
			require.NoError(t, err)
			assert.Contains(t, cmds, "dispatch 40 22 1")
		})
	}
}
