package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uniformShader = `
//@oxy:include time
@group(0) @binding(0) var output: texture_storage_2d<rgba32float, write>;
//@oxy:group 0 1 storage_uniform uniforms time

@compute @workgroup_size(8, 8, 1)
fn checker_board(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(output, vec2<i32>(id.xy), vec4<f32>(f32(uniforms.time)));
}
`

const missingUniformShader = `
@group(0) @binding(0) var output: texture_storage_2d<rgba32float, write>;

@compute @workgroup_size(8, 8, 1)
fn checker_board(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(output, vec2<i32>(id.xy), vec4<f32>(1.0));
}
`

var uniformContract = shader.Contract{
	Label: "uniform",
	Entries: []wgpu.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			StorageTexture: wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        wgpu.TextureFormatRGBA32Float,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		},
		{
			Binding:    1,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: 4},
		},
	},
}

// fakeSources returns loader.ErrNotLoaded until a source is published.
type fakeSources struct {
	mu      sync.Mutex
	sources map[string]string
	errs    map[string]error
}

func newFakeSources() *fakeSources {
	return &fakeSources{sources: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeSources) publish(ref, src string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[ref] = src
}

func (f *fakeSources) Source(ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[ref]; ok {
		return "", err
	}
	if src, ok := f.sources[ref]; ok {
		return src, nil
	}
	return "", loader.ErrNotLoaded
}

func noValidation(string) error { return nil }

func descriptor(ref string) Descriptor {
	return Descriptor{Label: "checker", ShaderRef: ref, EntryPoint: "checker_board", Contract: uniformContract}
}

func newTestCache(t *testing.T, dev *devicetest.Device, src Sources, opts ...CacheBuilderOption) Cache {
	t.Helper()
	c, err := NewCache(dev, src, append([]CacheBuilderOption{WithValidator(noValidation)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Release)
	return c
}

func TestCacheStaysQueuedWhileNotLoaded(t *testing.T) {
	dev := devicetest.New()
	src := newFakeSources()
	c := newTestCache(t, dev, src)

	gate := NewGate(c, descriptor("a.wgsl"))
	for range 5 {
		c.Process()
		c.Wait()
		assert.Equal(t, StatusQueued, gate.Poll().Status)
	}
	assert.Zero(t, dev.PipelineCount())

	src.publish("a.wgsl", uniformShader)
	c.Process()
	c.Wait()

	require.Equal(t, State{Status: StatusReady}, gate.Poll())
	p, ok := gate.Pipeline()
	require.True(t, ok)
	assert.Equal(t, "checker", p.ComputePipeline().Label())
	assert.Equal(t, [3]uint32{8, 8, 1}, p.Shader(shader.ShaderTypeCompute).WorkgroupSize())

	created := dev.Pipelines[0]
	assert.Equal(t, "checker_board", created.Desc.EntryPoint)
	require.Len(t, created.Desc.Layouts, 1)
	assert.Len(t, created.Desc.Layouts[0].Entries, 2)
}

func TestCacheDedupesDescriptors(t *testing.T) {
	dev := devicetest.New()
	src := newFakeSources()
	src.publish("a.wgsl", uniformShader)
	c := newTestCache(t, dev, src)

	h1 := c.QueueComputePipeline(descriptor("a.wgsl"))
	h2 := c.QueueComputePipeline(descriptor("a.wgsl"))
	assert.Equal(t, h1, h2)

	other := descriptor("a.wgsl")
	other.Constants = map[string]uint32{"cell": 4}
	assert.NotEqual(t, h1, c.QueueComputePipeline(other))

	c.Process()
	c.Wait()
	assert.Equal(t, 2, dev.PipelineCount())
}

func TestCacheCompileFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeSources, *devicetest.Device)
		opts    []CacheBuilderOption
		wantErr string
		wantIs  error
	}{
		{
			name:    "missing uniform binding",
			setup:   func(s *fakeSources, _ *devicetest.Device) { s.publish("bad.wgsl", missingUniformShader) },
			wantErr: "binding 1 is not declared",
			wantIs:  shader.ErrContractMismatch,
		},
		{
			name: "wrong entry point",
			setup: func(s *fakeSources, _ *devicetest.Device) {
				s.publish("bad.wgsl", "@compute @workgroup_size(1) fn main() {}")
			},
			wantErr: `no @compute entry point named "checker_board"`,
		},
		{
			name: "load error",
			setup: func(s *fakeSources, _ *devicetest.Device) {
				s.errs["bad.wgsl"] = errors.New("permission denied")
			},
			wantErr: "permission denied",
		},
		{
			name: "validator diagnostic",
			setup: func(s *fakeSources, _ *devicetest.Device) {
				s.publish("bad.wgsl", uniformShader)
			},
			opts:    []CacheBuilderOption{WithValidator(func(string) error { return errors.New("12:3 unknown identifier") })},
			wantErr: "12:3 unknown identifier",
		},
		{
			name: "device rejects pipeline",
			setup: func(s *fakeSources, d *devicetest.Device) {
				s.publish("bad.wgsl", uniformShader)
				d.FailPipelines = true
			},
			wantIs: devicetest.ErrInjected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := devicetest.New()
			src := newFakeSources()
			tt.setup(src, dev)
			m := metrics.New()
			c := newTestCache(t, dev, src, append([]CacheBuilderOption{WithMetrics(m)}, tt.opts...)...)

			gate := NewGate(c, descriptor("bad.wgsl"))
			c.Process()
			c.Wait()

			state := gate.Poll()
			require.Equal(t, StatusFailed, state.Status)
			var compileErr *CompileError
			require.ErrorAs(t, state.Err, &compileErr)
			assert.Equal(t, "bad.wgsl", compileErr.ShaderRef)
			assert.Equal(t, "checker_board", compileErr.EntryPoint)
			assert.Contains(t, state.Err.Error(), "bad.wgsl")
			if tt.wantErr != "" {
				assert.ErrorContains(t, state.Err, tt.wantErr)
			}
			if tt.wantIs != nil {
				assert.ErrorIs(t, state.Err, tt.wantIs)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineCompiles.WithLabelValues("failed")))

			// Failed is terminal.
			c.Process()
			c.Wait()
			assert.Equal(t, StatusFailed, gate.Poll().Status)
		})
	}
}

func TestCacheEvictionRequeues(t *testing.T) {
	dev := devicetest.New()
	src := newFakeSources()
	src.publish("a.wgsl", uniformShader)
	src.publish("b.wgsl", uniformShader)
	m := metrics.New()
	c := newTestCache(t, dev, src, WithCapacity(1), WithMetrics(m))

	a := NewGate(c, descriptor("a.wgsl"))
	c.Process()
	c.Wait()
	require.Equal(t, StatusReady, a.Poll().Status)

	b := NewGate(c, descriptor("b.wgsl"))
	c.Process()
	c.Wait()
	require.Equal(t, StatusReady, b.Poll().Status)

	assert.Equal(t, StatusQueued, a.Poll().Status)
	_, ok := a.Pipeline()
	assert.False(t, ok)
	assert.True(t, dev.Pipelines[0].Released)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineEvictions))
}

func TestCacheRelease(t *testing.T) {
	dev := devicetest.New()
	src := newFakeSources()
	src.publish("a.wgsl", uniformShader)
	c, err := NewCache(dev, src, WithValidator(noValidation))
	require.NoError(t, err)

	NewGate(c, descriptor("a.wgsl"))
	c.Process()
	c.Release()

	require.Equal(t, 1, dev.PipelineCount())
	assert.True(t, dev.Pipelines[0].Released)
}

func TestNewCacheRejectsZeroCapacity(t *testing.T) {
	_, err := NewCache(devicetest.New(), newFakeSources(), WithCapacity(0))
	assert.Error(t, err)
}

func TestUnknownHandle(t *testing.T) {
	c := newTestCache(t, devicetest.New(), newFakeSources())
	assert.Equal(t, StatusFailed, c.State(Handle(42)).Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "compiling", StatusCompiling.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}

func TestCacheSingleWorkerCompilesEveryEntry(t *testing.T) {
	dev := devicetest.New()
	src := newFakeSources()
	src.publish("a.wgsl", uniformShader)
	c := newTestCache(t, dev, src, WithWorkers(1))

	var handles []Handle
	for cell := range uint32(4) {
		desc := descriptor("a.wgsl")
		desc.Constants = map[string]uint32{"cell": cell}
		handles = append(handles, c.QueueComputePipeline(desc))
	}
	c.Process()
	c.Wait()

	for _, h := range handles {
		assert.Equal(t, StatusReady, c.State(h).Status)
	}
	assert.Equal(t, 4, dev.PipelineCount())
}
