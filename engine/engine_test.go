package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device/devicetest"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/scene"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	closeOnce sync.Once
	closed    chan struct{}
	onResize  func(width, height int)
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{closed: make(chan struct{})}
}

func (w *fakeWindow) SetUpdateCallback(func())                     {}
func (w *fakeWindow) SetResizeCallback(cb func(width, height int)) { w.onResize = cb }
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor   { return nil }
func (w *fakeWindow) Close() error                                 { return nil }
func (w *fakeWindow) Width() int                                   { return 1280 }
func (w *fakeWindow) Height() int                                  { return 720 }
func (w *fakeWindow) ProcessMessages()                             { <-w.closed }

func (w *fakeWindow) IsRunning() bool {
	select {
	case <-w.closed:
		return false
	default:
		return true
	}
}

func (w *fakeWindow) RequestClose() {
	w.closeOnce.Do(func() { close(w.closed) })
}

// fakeRenderer submits compute frames to a recording device and counts display passes.
type fakeRenderer struct {
	dev *devicetest.Device

	mu       sync.Mutex
	enc      device.CommandEncoder
	resized  [2]int
	draws    atomic.Int64
	presents atomic.Int64
	aborts   atomic.Int64
	pipes    []string
}

func (r *fakeRenderer) RegisterPipeline(p pipeline.Pipeline, _ ...device.BindGroupLayout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipes = append(r.pipes, p.PipelineKey())
	return nil
}

func (r *fakeRenderer) DrawFullscreen(string, device.BindGroup) error {
	r.draws.Add(1)
	return nil
}

func (r *fakeRenderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resized = [2]int{width, height}
}

func (r *fakeRenderer) BeginComputeFrame() (device.CommandEncoder, error) {
	enc, err := r.dev.CreateCommandEncoder("compute frame")
	r.enc = enc
	return enc, err
}

func (r *fakeRenderer) EndComputeFrame() error {
	cb, err := r.enc.Finish()
	if err != nil {
		return err
	}
	r.dev.Submit(cb)
	return nil
}

func (r *fakeRenderer) AbortComputeFrame() {
	r.enc.Release()
	r.aborts.Add(1)
}

func (r *fakeRenderer) BeginFrame() error { return nil }
func (r *fakeRenderer) EndFrame() error   { return nil }
func (r *fakeRenderer) Present()          { r.presents.Add(1) }

func newScene(t *testing.T, dev device.Device, m *metrics.Metrics, opts ...scene.SceneBuilderOption) scene.Scene {
	t.Helper()
	base := []scene.SceneBuilderOption{
		scene.WithLoader(loader.NewLoader(loader.BackendTypeFile, loader.WithRoot("../assets"))),
		scene.WithShaderValidator(nil),
		scene.WithMetrics(m),
	}
	s, err := scene.NewScene("checker", dev, resources.VariantPingPong, 320, 180, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s
}

func runAsync(e Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	return done
}

func TestRunDispatchesUntilQuit(t *testing.T) {
	dev := devicetest.New()
	m := metrics.New()
	r := &fakeRenderer{dev: dev}
	w := newFakeWindow()

	var ticks atomic.Int64
	e := NewEngine(
		WithWindow(w),
		WithRenderer(r),
		WithMetrics(m),
		WithTickRate(200),
		WithRenderFrameLimit(500),
		WithScene(0, newScene(t, dev, m)),
	)
	e.SetTickCallback(func(float32) { ticks.Add(1) })
	done := runAsync(e)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Dispatches) >= 5 && ticks.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeReady))
	assert.Positive(t, r.presents.Load())
	assert.Positive(t, r.draws.Load())
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Ticks), 3.0)

	e.Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	r.mu.Lock()
	assert.Equal(t, []string{"sprite"}, r.pipes)
	r.mu.Unlock()
}

func TestRunStopsOnBadShader(t *testing.T) {
	fsys := fstest.MapFS{
		"shaders/broken.wgsl": &fstest.MapFile{Data: []byte("@compute @workgroup_size(8, 8, 1)\nfn checker_board() {}\n")},
	}
	dev := devicetest.New()
	m := metrics.New()
	w := newFakeWindow()

	l := loader.NewLoader(loader.BackendTypeFile, loader.WithRoot("../assets"))
	s := newScene(t, dev, m, scene.WithComputeShader("shaders/broken.wgsl", ""),
		scene.WithLoader(splitSources{broken: loader.NewLoader(loader.BackendTypeFile, loader.WithFS(fsys)), Loader: l}))

	r := &fakeRenderer{dev: dev}
	e := NewEngine(WithWindow(w), WithRenderer(r), WithMetrics(m), WithScene(0, s))

	select {
	case err := <-runAsync(e):
		var ce *pipeline.CompileError
		require.True(t, errors.As(err, &ce), "got %v", err)
		assert.Equal(t, "shaders/broken.wgsl", ce.ShaderRef)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on a compile failure")
	}
	assert.False(t, w.IsRunning(), "a fatal error closes the window")
	assert.Zero(t, testutil.ToFloat64(m.Dispatches))

	// The failing frame is released, never submitted.
	assert.Equal(t, int64(1), r.aborts.Load())
	require.NotEmpty(t, dev.Encoders)
	last := dev.Encoders[len(dev.Encoders)-1]
	assert.True(t, last.Released)
	assert.Len(t, dev.Submitted, len(dev.Encoders)-1)
}

// splitSources serves shaders/broken.wgsl from one loader and everything else from another.
type splitSources struct {
	loader.Loader
	broken loader.Loader
}

func (s splitSources) Request(ref string) {
	if ref == "shaders/broken.wgsl" {
		s.broken.Request(ref)
		return
	}
	s.Loader.Request(ref)
}

func (s splitSources) Source(ref string) (string, error) {
	if ref == "shaders/broken.wgsl" {
		return s.broken.Source(ref)
	}
	return s.Loader.Source(ref)
}

func TestRunRequiresRenderer(t *testing.T) {
	e := NewEngine(WithWindow(newFakeWindow()))
	assert.Error(t, e.Run())
}

func TestResizeCallbackReachesRenderer(t *testing.T) {
	w := newFakeWindow()
	r := &fakeRenderer{dev: devicetest.New()}
	NewEngine(WithWindow(w), WithRenderer(r))
	require.NotNil(t, w.onResize)
	w.onResize(800, 600)
	assert.Equal(t, [2]int{800, 600}, r.resized)
}

func TestScenesAreCopied(t *testing.T) {
	dev := devicetest.New()
	m := metrics.New()
	e := NewEngine()
	e.AddScene(2, newScene(t, dev, m))
	scenes := e.Scenes()
	delete(scenes, 2)
	assert.NotNil(t, e.Scene(2))
	e.RemoveScene(2)
	assert.Nil(t, e.Scene(2))
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, time.Second/60, tickInterval(0))
	assert.Equal(t, 40*time.Millisecond, tickInterval(25))
	assert.Equal(t, time.Duration(float64(time.Second)/59.94), tickInterval(59.94))
}
