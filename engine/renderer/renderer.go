package renderer

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend
	logger      *zap.Logger

	// pendingSize is set from the window thread and applied before the next frame.
	pendingSize *[2]int

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	clearColor           wgpu.Color
}

// Renderer owns the GPU device and the window surface. Each frame records its compute
// work into one encoder, submits it, and then draws the display pass into the surface.
type Renderer interface {
	// Device returns the device compute resources are created on.
	//
	// Returns:
	//   - device.Device: the renderer's device
	Device() device.Device

	// Pipeline retrieves the registered render Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipeline creates the GPU render pipeline for p and caches it by PipelineKey.
	// Keys that are already registered are skipped.
	//
	// Parameters:
	//   - p: the render Pipeline to register
	//   - layouts: the bind group layouts, indexed by group
	//
	// Returns:
	//   - error: an error if p is not a render pipeline or creation fails
	RegisterPipeline(p pipeline.Pipeline, layouts ...device.BindGroupLayout) error

	// Resize records a new surface size. The surface is reconfigured before the next
	// frame is acquired, so this is safe to call from the window thread mid-frame.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode changes the present mode, taking effect on the next surface configuration.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// BeginComputeFrame creates the command encoder all compute work of a frame is recorded into.
	// Must be paired with EndComputeFrame.
	//
	// Returns:
	//   - device.CommandEncoder: the frame encoder
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() (device.CommandEncoder, error)

	// EndComputeFrame finishes the compute encoder and submits it to the GPU queue.
	//
	// Returns:
	//   - error: an error if the encoder could not be finished
	EndComputeFrame() error

	// AbortComputeFrame releases the compute encoder without submitting anything recorded
	// into it. Used when a frame fails part way through.
	AbortComputeFrame()

	// BeginFrame applies any pending resize, acquires the swapchain texture and begins the
	// display pass. Must be paired with EndFrame.
	//
	// Returns:
	//   - error: an error if the swapchain texture could not be acquired
	BeginFrame() error

	// DrawFullscreen draws a fullscreen triangle with the registered pipeline and bind group.
	//
	// Parameters:
	//   - pipelineKey: the key of a registered render Pipeline
	//   - bg: the bind group set at group 0
	//
	// Returns:
	//   - error: an error if the pipeline is not registered
	DrawFullscreen(pipelineKey string, bg device.BindGroup) error

	// EndFrame ends the display pass and submits it. Call Present afterwards.
	//
	// Returns:
	//   - error: an error if the command buffer could not be finished
	EndFrame() error

	// Present presents the surface to the display.
	Present()

	// Release destroys registered pipelines and the GPU device.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer bound to the window's surface.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - window: the window whose surface frames are presented into
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the configured renderer
//   - error: an error if no adapter or device could be acquired
func NewRenderer(backendType RendererBackendType, window window.Window, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
		clearColor:    wgpu.Color{R: 0, G: 0, B: 0, A: 1},
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	var err error
	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend, err = newWGPURendererBackend(window.SurfaceDescriptor(), r.forceFallbackAdapter, r.clearColor)
	}
	if err != nil {
		return nil, err
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	r.backend.ConfigureSurface(window.Width(), window.Height())
	r.logger.Info("renderer ready",
		zap.Int("width", window.Width()),
		zap.Int("height", window.Height()),
		zap.Bool("software", r.forceFallbackAdapter),
	)
	return r, nil
}

func (r *renderer) Device() device.Device {
	return r.backend.Device()
}

func (r *renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingSize = &[2]int{width, height}
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipeline(p pipeline.Pipeline, layouts ...device.BindGroupLayout) error {
	if p.Type() != pipeline.PipelineTypeRender {
		return fmt.Errorf("pipeline %q is not a render pipeline", p.PipelineKey())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.PipelineKey()
	if _, exists := r.pipelineCache[key]; exists {
		return nil
	}
	if err := r.backend.RegisterRenderPipeline(p, layouts); err != nil {
		return fmt.Errorf("failed to register pipeline %q: %w", key, err)
	}
	r.pipelineCache[key] = p
	return nil
}

func (r *renderer) BeginComputeFrame() (device.CommandEncoder, error) {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) EndComputeFrame() error {
	return r.backend.EndComputeFrame()
}

func (r *renderer) AbortComputeFrame() {
	r.backend.AbortComputeFrame()
}

func (r *renderer) BeginFrame() error {
	r.mu.Lock()
	size := r.pendingSize
	r.pendingSize = nil
	r.mu.Unlock()

	// A minimized window reports a zero framebuffer; keep the old configuration.
	if size != nil && size[0] > 0 && size[1] > 0 {
		r.backend.ConfigureSurface(size[0], size[1])
		r.logger.Debug("surface resized", zap.Int("width", size[0]), zap.Int("height", size[1]))
	}
	return r.backend.BeginFrame()
}

func (r *renderer) DrawFullscreen(pipelineKey string, bg device.BindGroup) error {
	p := r.Pipeline(pipelineKey)
	if p == nil {
		return fmt.Errorf("pipeline not found: %s", pipelineKey)
	}
	r.backend.DrawFullscreen(p, bg)
	return nil
}

func (r *renderer) EndFrame() error {
	return r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.mu.Lock()
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
	r.mu.Unlock()
	r.backend.Release()
}
