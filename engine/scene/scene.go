// Package scene is the coordinator of one checker board node. It owns every component
// and the FrameContext that carries state between them, and exposes the two phases the
// engine drives each frame: PrepareCompute inside the compute frame and DrawCalls
// inside the display pass.
package scene

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-compute/engine/driver"
	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/display"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/node"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/uniform"
	"go.uber.org/zap"
)

// Drawer is the part of the renderer the display phase needs.
type Drawer interface {
	RegisterPipeline(p pipeline.Pipeline, layouts ...device.BindGroupLayout) error
	DrawFullscreen(pipelineKey string, bg device.BindGroup) error
}

type scene struct {
	mu     sync.Mutex
	name   string
	active atomic.Bool

	dev     device.Device
	variant resources.Variant
	width   uint32
	height  uint32

	// configuration collected from builder options
	shaderRef     string
	entryPoint    string
	displayRef    string
	displayFactor uint32
	workgroupSize uint32
	capacity      int
	workers       int
	validator     func(string) error
	validatorSet  bool
	loader        loader.Loader
	logger        *zap.Logger
	metrics       *metrics.Metrics

	cache    pipeline.Cache
	gate     *pipeline.Gate
	pool     resources.Pool
	builder  bind_group_provider.Builder
	sync     uniform.Synchronizer
	node     node.Node
	display  display.Display
	sprite   *display.Sprite
	driver   *driver.Driver
	frame    driver.FrameContext
	released bool
}

// Scene coordinates the compute node and its display. Every method except Tick must run
// on the render goroutine.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// Active returns whether the engine renders this scene.
	Active() bool

	// SetActive sets whether the engine renders this scene.
	SetActive(active bool)

	// Variant returns the buffering variant.
	Variant() resources.Variant

	// State returns the render node's state.
	State() node.State

	// Uniform returns the host-side uniform block.
	Uniform() uniform.Block

	// Sprite returns the display state toggled by Tick.
	Sprite() *display.Sprite

	// Frame returns a copy of the most recently extracted FrameContext.
	Frame() driver.FrameContext

	// Init registers the display pipeline with the renderer. Call once before the first frame.
	//
	// Parameters:
	//   - drawer: the renderer
	//
	// Returns:
	//   - error: an error if the display pipeline could not be created
	Init(drawer Drawer) error

	// PrepareCompute runs one render-graph tick: extraction, bind group preparation,
	// the uniform upload, the pipeline gate, and recording of the compute dispatch into enc.
	//
	// Parameters:
	//   - enc: the frame's compute encoder
	//
	// Returns:
	//   - error: a fatal error; the caller must stop the frame loop
	PrepareCompute(enc device.CommandEncoder) error

	// DrawCalls draws the sprite's current texture.
	// Must be called within a BeginFrame/EndFrame block on the renderer.
	//
	// Parameters:
	//   - drawer: the renderer
	//
	// Returns:
	//   - error: an error if the sprite bind groups cannot be built or drawn
	DrawCalls(drawer Drawer) error

	// Tick advances the simulation by one tick. Safe to call from the simulation goroutine.
	Tick()

	// Release waits for background compilation and destroys every GPU resource.
	Release()
}

var _ Scene = &scene{}

// NewScene builds the node's resources on dev. The display shader is loaded synchronously;
// the compute shader is only requested and compiles in the background.
//
// Parameters:
//   - name: the scene's identifier
//   - dev: the device resources are created on
//   - variant: the buffering variant
//   - width: compute texture width in texels
//   - height: compute texture height in texels
//   - options: optional SceneBuilderOption values
//
// Returns:
//   - Scene: the scene
//   - error: a fatal setup error
func NewScene(name string, dev device.Device, variant resources.Variant, width, height uint32, options ...SceneBuilderOption) (Scene, error) {
	s := &scene{
		name:          name,
		dev:           dev,
		variant:       variant,
		width:         width,
		height:        height,
		entryPoint:    "checker_board",
		displayRef:    "shaders/sprite.wgsl",
		displayFactor: 4,
		workgroupSize: node.DefaultWorkgroupSize,
		capacity:      pipeline.DefaultCapacity,
		workers:       pipeline.DefaultWorkers,
	}
	s.active.Store(true)
	for _, opt := range options {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.loader == nil {
		s.loader = loader.NewLoader(loader.BackendTypeEmbedded, loader.WithLogger(s.logger))
	}
	if s.shaderRef == "" {
		s.shaderRef = defaultShaderRef(variant)
	}

	if err := s.build(); err != nil {
		s.Release()
		return nil, err
	}
	s.logger.Info("scene created",
		zap.String("scene", name),
		zap.Stringer("variant", variant),
		zap.Uint32("width", width),
		zap.Uint32("height", height),
		zap.String("shader", s.shaderRef),
	)
	return s, nil
}

func defaultShaderRef(v resources.Variant) string {
	if v == resources.VariantUniform {
		return "shaders/checker_board_uniform.wgsl"
	}
	return "shaders/checker_board_pingpong.wgsl"
}

func (s *scene) build() error {
	var err error
	s.pool, err = resources.NewPool(s.dev, s.variant, s.width, s.height, resources.WithLogger(s.logger))
	if err != nil {
		return err
	}

	cacheOptions := []pipeline.CacheBuilderOption{
		pipeline.WithCapacity(s.capacity),
		pipeline.WithWorkers(s.workers),
		pipeline.WithLogger(s.logger),
		pipeline.WithMetrics(s.metrics),
	}
	if s.validatorSet {
		cacheOptions = append(cacheOptions, pipeline.WithValidator(s.validator))
	}
	s.cache, err = pipeline.NewCache(s.dev, s.loader, cacheOptions...)
	if err != nil {
		return err
	}
	s.gate = pipeline.NewGate(s.cache, pipeline.Descriptor{
		Label:      "checker board",
		ShaderRef:  s.shaderRef,
		EntryPoint: s.entryPoint,
		Contract:   s.pool.Contract(),
	})

	s.builder = bind_group_provider.NewBuilder(s.dev,
		bind_group_provider.WithLogger(s.logger),
		bind_group_provider.WithMetrics(s.metrics),
	)

	nodeOptions := []node.NodeBuilderOption{
		node.WithWorkgroupSize(s.workgroupSize),
		node.WithLogger(s.logger),
		node.WithMetrics(s.metrics),
	}
	if s.variant == resources.VariantUniform {
		s.sync = uniform.NewSynchronizer(s.dev,
			uniform.WithLogger(s.logger),
			uniform.WithMetrics(s.metrics),
		)
		nodeOptions = append(nodeOptions, node.WithUniformCopier(s.sync))
	}
	s.node, err = node.NewNode(s.gate, s.variant, nodeOptions...)
	if err != nil {
		return err
	}

	source, err := s.loadDisplaySource()
	if err != nil {
		return err
	}
	displayOptions := []display.DisplayBuilderOption{display.WithLogger(s.logger)}
	if s.validatorSet {
		displayOptions = append(displayOptions, display.WithValidator(s.validator))
	}
	s.display, err = display.NewDisplay(s.dev, source, s.displayFactor, displayOptions...)
	if err != nil {
		return fmt.Errorf("failed to create display: %w", err)
	}
	s.sprite = display.NewSprite(s.pool.Textures(), s.displayFactor)
	s.driver = driver.NewDriver(s.pool, s.sprite, s.metrics)
	return nil
}

func (s *scene) loadDisplaySource() (string, error) {
	s.loader.Request(s.displayRef)
	s.loader.Wait()
	source, err := s.loader.Source(s.displayRef)
	if err != nil {
		return "", fmt.Errorf("failed to load display shader %s: %w", s.displayRef, err)
	}
	return source, nil
}

func (s *scene) Name() string {
	return s.name
}

func (s *scene) Active() bool {
	return s.active.Load()
}

func (s *scene) SetActive(active bool) {
	s.active.Store(active)
}

func (s *scene) Variant() resources.Variant {
	return s.variant
}

func (s *scene) State() node.State {
	return s.node.State()
}

func (s *scene) Uniform() uniform.Block {
	if s.sync == nil {
		return uniform.Block{}
	}
	return s.sync.Snapshot()
}

func (s *scene) Sprite() *display.Sprite {
	return s.sprite
}

func (s *scene) Frame() driver.FrameContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *scene) Init(drawer Drawer) error {
	return drawer.RegisterPipeline(s.display.Pipeline(), s.display.BindGroupLayout())
}

func (s *scene) PrepareCompute(enc device.CommandEncoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.New("scene released")
	}

	s.driver.Extract(&s.frame)
	ctx := &s.frame

	if _, err := s.builder.Prepare(ctx.Resources); err != nil {
		return fmt.Errorf("failed to prepare bind groups: %w", err)
	}
	if s.sync != nil {
		if err := s.sync.Prepare(ctx.Staging); err != nil {
			return fmt.Errorf("failed to prepare uniform: %w", err)
		}
	}

	s.cache.Process()
	if err := s.node.Update(); err != nil {
		return err
	}
	return s.node.Run(node.Frame{
		Encoder:    enc,
		BindGroups: s.builder,
		Width:      ctx.Width,
		Height:     ctx.Height,
		Staging:    ctx.Staging,
		Uniform:    ctx.Resources.Uniform,
	})
}

func (s *scene) DrawCalls(drawer Drawer) error {
	if err := s.display.Prepare(s.sprite); err != nil {
		return err
	}
	bg := s.display.BindGroup(s.sprite)
	if bg == nil {
		return nil
	}
	return drawer.DrawFullscreen(s.display.Pipeline().PipelineKey(), bg)
}

func (s *scene) Tick() {
	s.driver.Tick()
}

func (s *scene) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true

	if s.builder != nil {
		s.builder.Release()
	}
	if s.display != nil {
		s.display.Release()
	}
	if s.cache != nil {
		s.cache.Release()
	}
	if s.pool != nil {
		s.pool.Release()
	}
	s.logger.Debug("scene released", zap.String("scene", s.name))
}
