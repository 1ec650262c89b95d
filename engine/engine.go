package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/profiler"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/scene"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FrameRenderer is the renderer surface the frame loop drives. renderer.Renderer
// satisfies it.
type FrameRenderer interface {
	scene.Drawer
	Resize(width, height int)
	BeginComputeFrame() (device.CommandEncoder, error)
	EndComputeFrame() error
	AbortComputeFrame()
	BeginFrame() error
	EndFrame() error
	Present()
}

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	mu      sync.RWMutex
	running bool

	quitOnce sync.Once

	window   window.Window
	renderer FrameRenderer

	profiler         *profiler.Profiler
	profilingEnabled bool
	logger           *zap.Logger
	metrics          *metrics.Metrics

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	scenes map[int]scene.Scene

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It orchestrates the simulation tick loop, the render loop, and window management.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the simulation tick rate in ticks per second.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each simulation tick, after the
	// scenes have ticked.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each render frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// AddScene registers a scene at the given z-index key.
	// Scenes are rendered in ascending key order during the render loop.
	//
	// Parameters:
	//   - key: the z-index determining render order (lower renders first)
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given z-index key.
	//
	// Parameters:
	//   - key: the z-index of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given z-index key.
	// Returns nil if no scene exists at that key.
	//
	// Parameters:
	//   - key: the z-index of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes keyed by z-index.
	//
	// Returns:
	//   - map[int]scene.Scene: a copy of the scenes map
	Scenes() map[int]scene.Scene

	// Run registers the scenes with the renderer, starts the tick and render goroutines
	// and runs the window message loop on the calling thread. It blocks until the window
	// closes or a goroutine fails.
	//
	// Returns:
	//   - error: the first fatal error, or nil after a clean shutdown
	Run() error

	// Quit asks the window to close, which stops Run. Safe to call multiple times.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// Options are applied directly to the engine struct via the option-builder pattern.
//
// Parameters:
//   - options: functional options for engine configuration (profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		scenes:          make(map[int]scene.Scene),
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	e.profiler = profiler.NewProfiler(e.logger.Named("profiler"), e.metrics)

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			if e.renderer != nil {
				e.renderer.Resize(width, height)
			}
		})
	}

	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Run() error {
	if e.window == nil || e.renderer == nil {
		return errors.New("engine needs a window and a renderer")
	}
	for _, s := range e.orderedScenes(false) {
		if err := s.Init(e.renderer); err != nil {
			return fmt.Errorf("scene %s: %w", s.Name(), err)
		}
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.handleEngine(gctx) })
	g.Go(func() error { return e.handleRender(gctx) })
	g.Go(func() error {
		// A failed goroutine cancels gctx; close the window so the message loop returns.
		<-gctx.Done()
		e.Quit()
		return nil
	})

	e.window.ProcessMessages()
	cancel()
	err := g.Wait()
	if err != nil {
		e.logger.Error("engine stopped", zap.Error(err))
	} else {
		e.logger.Info("engine stopped")
	}
	return err
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		if e.window != nil {
			e.window.RequestClose()
		}
	})
}

// orderedScenes returns the scenes in ascending z-index order.
func (e *engine) orderedScenes(activeOnly bool) []scene.Scene {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]scene.Scene, 0, len(e.scenes))
	for _, k := range slices.Sorted(maps.Keys(e.scenes)) {
		if s := e.scenes[k]; !activeOnly || s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// handleEngine runs the fixed-rate simulation tick loop.
// Each tick advances every active scene, then fires the tick callback.
func (e *engine) handleEngine(ctx context.Context) error {
	e.mu.RLock()
	rate := e.engineTickRate
	e.mu.RUnlock()
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			for _, s := range e.orderedScenes(true) {
				s.Tick()
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.mu.Lock()
			e.engineTickRate = newRate
			e.mu.Unlock()
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop.
// A panic inside a frame is converted into an error so the engine shuts down cleanly.
func (e *engine) handleRender(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render goroutine panicked: %v", r)
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now

		if err := e.renderFrame(); err != nil {
			return err
		}
		e.metrics.FrameDuration.Observe(time.Since(now).Seconds())

		if e.renderCallback != nil {
			e.renderCallback(dt)
		}

		e.mu.RLock()
		profiling, limit := e.profilingEnabled, e.renderFrameLimit
		e.mu.RUnlock()
		if profiling {
			e.profiler.Tick()
		}

		// Frame rate limiting
		if limit > 0 {
			if remaining := limit - time.Since(now); remaining > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(remaining):
				}
			}
		}
	}
}

// renderFrame records every active scene's compute work into one submission, then
// draws them all within a single display pass.
func (e *engine) renderFrame() error {
	active := e.orderedScenes(true)
	if len(active) == 0 {
		return nil
	}

	enc, err := e.renderer.BeginComputeFrame()
	if err != nil {
		return fmt.Errorf("failed to begin compute frame: %w", err)
	}
	for _, s := range active {
		if err := s.PrepareCompute(enc); err != nil {
			e.renderer.AbortComputeFrame()
			return fmt.Errorf("scene %s: %w", s.Name(), err)
		}
	}
	if err := e.renderer.EndComputeFrame(); err != nil {
		return err
	}

	// Acquisition fails transiently while the surface is outdated, e.g. mid-resize.
	if err := e.renderer.BeginFrame(); err != nil {
		e.logger.Debug("skipping display pass", zap.Error(err))
		return nil
	}
	var drawErr error
	for _, s := range active {
		if err := s.DrawCalls(e.renderer); err != nil {
			drawErr = fmt.Errorf("scene %s: %w", s.Name(), err)
			break
		}
	}
	if err := e.renderer.EndFrame(); err != nil {
		return errors.Join(drawErr, err)
	}
	e.renderer.Present()
	return drawErr
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = false
}

// SetTickRate sets the simulation tick rate.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickInterval(fps)

	e.mu.Lock()
	running := e.running
	if !running {
		e.engineTickRate = newRate
	}
	e.mu.Unlock()
	if !running {
		return
	}

	// Non-blocking send - if channel is full, replace the pending value
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scenes[key]
}

func (e *engine) Scenes() map[int]scene.Scene {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.scenes)
}
