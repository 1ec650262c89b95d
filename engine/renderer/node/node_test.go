package node

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/uniform"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const computeSource = `
@group(0) @binding(0) var output: texture_storage_2d<rgba32float, write>;

@compute @workgroup_size(8, 8, 1)
fn checker_board(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(output, vec2<i32>(id.xy), vec4<f32>(1.0));
}
`

type fakeGate struct {
	state    pipeline.State
	pipeline pipeline.Pipeline
}

func (g *fakeGate) Poll() pipeline.State { return g.state }

func (g *fakeGate) Pipeline() (pipeline.Pipeline, bool) {
	if g.state.Status != pipeline.StatusReady || g.pipeline == nil {
		return nil, false
	}
	return g.pipeline, true
}

func (g *fakeGate) ready(t *testing.T) {
	t.Helper()
	s, err := shader.NewShader("checker.wgsl", shader.ShaderTypeCompute, computeSource, shader.WithValidator(nil))
	require.NoError(t, err)
	p := pipeline.NewPipeline("checker", pipeline.PipelineTypeCompute, pipeline.WithComputeShader(s))
	p.SetComputePipeline(&devicetest.ComputePipeline{Desc: device.ComputePipelineDescriptor{Label: "checker"}})
	g.pipeline = p
	g.state = pipeline.State{Status: pipeline.StatusReady}
}

type harness struct {
	dev     *devicetest.Device
	pool    resources.Pool
	groups  bind_group_provider.Builder
	sync    uniform.Synchronizer
	node    Node
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, variant resources.Variant, gate Gate) *harness {
	t.Helper()
	h := &harness{dev: devicetest.New(), metrics: metrics.New()}

	pool, err := resources.NewPool(h.dev, variant, 320, 180)
	require.NoError(t, err)
	h.pool = pool
	h.groups = bind_group_provider.NewBuilder(h.dev)
	h.sync = uniform.NewSynchronizer(h.dev, uniform.WithMetrics(h.metrics))

	h.node, err = NewNode(gate, variant, WithUniformCopier(h.sync), WithMetrics(h.metrics))
	require.NoError(t, err)
	return h
}

// tick runs one frame the way the scene does and returns the commands it submitted.
func (h *harness) tick(t *testing.T) []string {
	t.Helper()
	_, err := h.groups.Prepare(bind_group_provider.Resources{
		Variant:  h.pool.Variant(),
		Layout:   h.pool.BindGroupLayout(),
		Textures: h.pool.Textures(),
		Uniform:  h.pool.UniformBuffer(),
	})
	require.NoError(t, err)
	if h.pool.Variant() == resources.VariantUniform {
		require.NoError(t, h.sync.Prepare(h.pool.StagingBuffer()))
	}
	require.NoError(t, h.node.Update())

	enc, err := h.dev.CreateCommandEncoder("frame")
	require.NoError(t, err)
	w, hgt := h.pool.Size()
	require.NoError(t, h.node.Run(Frame{
		Encoder:    enc,
		BindGroups: h.groups,
		Width:      w,
		Height:     hgt,
		Staging:    h.pool.StagingBuffer(),
		Uniform:    h.pool.UniformBuffer(),
	}))
	cb, err := enc.Finish()
	require.NoError(t, err)
	h.dev.Submit(cb)
	return cb.(*devicetest.CommandBuffer).Commands
}

func TestNoDispatchWhileLoading(t *testing.T) {
	gate := &fakeGate{state: pipeline.State{Status: pipeline.StatusQueued}}
	h := newHarness(t, resources.VariantPingPong, gate)

	for i := range 6 {
		if i == 3 {
			gate.state = pipeline.State{Status: pipeline.StatusCompiling}
		}
		assert.Empty(t, h.tick(t))
		assert.Equal(t, State{Phase: PhaseLoading}, h.node.State())
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(h.metrics.LoadingTicks))
	assert.Zero(t, testutil.ToFloat64(h.metrics.Dispatches))
	assert.Zero(t, testutil.ToFloat64(h.metrics.NodeReady))
}

func TestPingPongParity(t *testing.T) {
	gate := &fakeGate{state: pipeline.State{Status: pipeline.StatusQueued}}
	h := newHarness(t, resources.VariantPingPong, gate)

	h.tick(t)
	gate.ready(t)

	for n := range 6 {
		cmds := h.tick(t)
		want := []string{
			"begin checker board",
			"pipeline checker",
			"bindgroup 0 pingpong " + string(rune('0'+n%2)),
			"dispatch 40 22 1",
			"end",
		}
		if diff := cmp.Diff(want, cmds); diff != "" {
			t.Fatalf("tick %d commands (-want +got):\n%s", n, diff)
		}
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(h.metrics.Dispatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NodeReady))
}

func TestUniformCopyPrecedesDispatch(t *testing.T) {
	gate := &fakeGate{}
	gate.ready(t)
	h := newHarness(t, resources.VariantUniform, gate)

	for tick := uint32(1); tick <= 4; tick++ {
		cmds := h.tick(t)
		want := []string{
			"copy staging->uniform 4",
			"begin checker board",
			"pipeline checker",
			"bindgroup 0 uniform",
			"dispatch 40 22 1",
			"end",
		}
		if diff := cmp.Diff(want, cmds); diff != "" {
			t.Fatalf("tick %d commands (-want +got):\n%s", tick, diff)
		}
		assert.Equal(t, tick, h.sync.Snapshot().Time)
		assert.Equal(t, State{Phase: PhaseReady}, h.node.State())
	}

	u := h.pool.UniformBuffer().(*devicetest.Buffer)
	assert.Equal(t, []byte{4, 0, 0, 0}, u.Data)
}

func TestUniformCopyRejectedWhileStagingMapped(t *testing.T) {
	gate := &fakeGate{}
	gate.ready(t)
	h := newHarness(t, resources.VariantUniform, gate)
	h.dev.HoldMaps = true

	_, err := h.groups.Prepare(bind_group_provider.Resources{
		Variant:  h.pool.Variant(),
		Layout:   h.pool.BindGroupLayout(),
		Textures: h.pool.Textures(),
		Uniform:  h.pool.UniformBuffer(),
	})
	require.NoError(t, err)
	require.NoError(t, h.sync.Prepare(h.pool.StagingBuffer()))
	require.NoError(t, h.node.Update())
	require.Equal(t, 1, h.dev.PendingMaps())

	enc, err := h.dev.CreateCommandEncoder("frame")
	require.NoError(t, err)
	w, hgt := h.pool.Size()
	err = h.node.Run(Frame{
		Encoder:    enc,
		BindGroups: h.groups,
		Width:      w,
		Height:     hgt,
		Staging:    h.pool.StagingBuffer(),
		Uniform:    h.pool.UniformBuffer(),
	})
	assert.ErrorContains(t, err, "still mapped")
	assert.Zero(t, testutil.ToFloat64(h.metrics.Dispatches))
}

func TestBlockingPollCompletesMapBeforeCopy(t *testing.T) {
	gate := &fakeGate{}
	gate.ready(t)
	h := newHarness(t, resources.VariantUniform, gate)

	for tick := 1; tick <= 3; tick++ {
		h.tick(t)
		assert.Zero(t, h.dev.PendingMaps())
		assert.Equal(t, tick, h.dev.WaitPolls)
	}
	u := h.pool.UniformBuffer().(*devicetest.Buffer)
	assert.Equal(t, []byte{3, 0, 0, 0}, u.Data)
}

func TestFailedPipelineIsFatal(t *testing.T) {
	compileErr := &pipeline.CompileError{ShaderRef: "bad.wgsl", EntryPoint: "checker_board", Err: errors.New("binding 1 is not declared")}
	gate := &fakeGate{state: pipeline.State{Status: pipeline.StatusFailed, Err: compileErr}}
	h := newHarness(t, resources.VariantUniform, gate)

	err := h.node.Update()
	require.Error(t, err)
	var ce *pipeline.CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, strings.Contains(err.Error(), "bad.wgsl"))
	assert.Equal(t, PhaseLoading, h.node.State().Phase)
}

func TestWorkgroupSizeMismatch(t *testing.T) {
	gate := &fakeGate{}
	gate.ready(t)
	n, err := NewNode(gate, resources.VariantPingPong, WithWorkgroupSize(16))
	require.NoError(t, err)
	assert.ErrorContains(t, n.Update(), "@workgroup_size(8, 8)")
}

func TestEvictedPipelineSkipsTick(t *testing.T) {
	gate := &fakeGate{}
	gate.ready(t)
	h := newHarness(t, resources.VariantPingPong, gate)
	h.tick(t)

	gate.pipeline = nil
	assert.Empty(t, h.tick(t))
	assert.Equal(t, State{Phase: PhaseReady, Parity: 1}, h.node.State())
}

func TestNewNodeRequiresCopierForUniform(t *testing.T) {
	_, err := NewNode(&fakeGate{}, resources.VariantUniform)
	assert.Error(t, err)
}
