package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCapacity is the number of compiled compute pipelines kept alive by default.
const DefaultCapacity = 16

// DefaultWorkers is the number of compile workers used by default.
const DefaultWorkers = 2

// Sources supplies shader text by reference. It returns loader.ErrNotLoaded until the
// text is available.
type Sources interface {
	Source(ref string) (string, error)
}

// Descriptor describes a compute pipeline to compile.
type Descriptor struct {
	Label      string
	ShaderRef  string
	EntryPoint string

	// Contract is the bind group the host binds; the shader must declare it exactly.
	Contract shader.Contract

	// Constants are bound to //@oxy:const keys in the shader source.
	Constants map[string]uint32
}

// Key identifies descriptors that compile to the same pipeline.
func (d Descriptor) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s#%s@%s", d.ShaderRef, d.EntryPoint, d.Contract.Label)
	for _, k := range slices.Sorted(maps.Keys(d.Constants)) {
		fmt.Fprintf(&sb, ";%s=%d", k, d.Constants[k])
	}
	return sb.String()
}

type cacheEntry struct {
	handle Handle
	desc   Descriptor
	state  State
}

type cache struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	released bool

	dev     device.Device
	sources Sources

	entries map[Handle]*cacheEntry
	byKey   map[string]Handle
	ready   *lru.Cache[Handle, Pipeline]
	next    Handle

	capacity      int
	workers       int
	pool          worker.DynamicWorkerPool
	shaderOptions []shader.ShaderBuilderOption
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// Cache compiles compute pipelines in the background and hands out handles whose state
// callers poll once per tick.
type Cache interface {
	// QueueComputePipeline requests a compute pipeline. Identical descriptors share one handle.
	//
	// Parameters:
	//   - desc: the pipeline to compile
	//
	// Returns:
	//   - Handle: the handle to poll
	QueueComputePipeline(desc Descriptor) Handle

	// State reports the compilation state of a handle. Unknown handles report StatusFailed.
	//
	// Parameters:
	//   - h: the handle returned by QueueComputePipeline
	//
	// Returns:
	//   - State: the current state
	State(h Handle) State

	// ComputePipeline returns the compiled pipeline for a ready handle.
	//
	// Parameters:
	//   - h: the handle returned by QueueComputePipeline
	//
	// Returns:
	//   - Pipeline: the compiled pipeline
	//   - bool: false unless the handle is ready and still cached
	ComputePipeline(h Handle) (Pipeline, bool)

	// Process advances queued entries. Entries whose source is not loaded stay queued;
	// the rest are handed to the compile worker pool.
	Process()

	// Wait blocks until every running compilation has finished.
	Wait()

	// Release waits for running compilations and destroys every cached pipeline.
	Release()
}

var _ Cache = &cache{}

// NewCache creates a pipeline cache.
//
// Parameters:
//   - dev: the device pipelines are created on
//   - sources: where shader text comes from, usually a loader.Loader
//   - options: optional CacheBuilderOption values
//
// Returns:
//   - Cache: the new cache
//   - error: an error if the capacity is invalid
func NewCache(dev device.Device, sources Sources, options ...CacheBuilderOption) (Cache, error) {
	c := &cache{
		dev:      dev,
		sources:  sources,
		entries:  make(map[Handle]*cacheEntry),
		byKey:    make(map[string]Handle),
		capacity: DefaultCapacity,
		workers:  DefaultWorkers,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	ready, err := lru.NewWithEvict(c.capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline cache: %w", err)
	}
	c.ready = ready
	c.pool = worker.NewDynamicWorkerPool(max(c.workers, 1), 64, time.Second)
	return c, nil
}

func (c *cache) QueueComputePipeline(desc Descriptor) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := desc.Key()
	if h, ok := c.byKey[key]; ok {
		return h
	}
	c.next++
	h := c.next
	c.entries[h] = &cacheEntry{handle: h, desc: desc, state: State{Status: StatusQueued}}
	c.byKey[key] = h
	c.logger.Debug("queued compute pipeline", zap.String("key", key), zap.Uint64("handle", uint64(h)))
	return h
}

func (c *cache) State(h Handle) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return State{Status: StatusFailed, Err: fmt.Errorf("unknown pipeline handle %d", h)}
	}
	return e.state
}

func (c *cache) ComputePipeline(h Handle) (Pipeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Get(h)
}

func (c *cache) Process() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	var queued []*cacheEntry
	for _, h := range slices.Sorted(maps.Keys(c.entries)) {
		if e := c.entries[h]; e.state.Status == StatusQueued {
			queued = append(queued, e)
		}
	}
	c.mu.Unlock()

	for _, e := range queued {
		source, err := c.sources.Source(e.desc.ShaderRef)
		if errors.Is(err, loader.ErrNotLoaded) {
			continue
		}

		c.mu.Lock()
		if err != nil {
			c.fail(e, err)
			c.mu.Unlock()
			continue
		}
		e.state = State{Status: StatusCompiling}
		c.wg.Add(1)
		c.mu.Unlock()

		entry := e
		c.pool.SubmitTask(worker.Task{
			ID: int(entry.handle),
			Do: func() (any, error) {
				c.compile(entry, source)
				return nil, nil
			},
		})
	}
}

func (c *cache) compile(e *cacheEntry, source string) {
	defer c.wg.Done()

	start := time.Now()
	p, err := c.build(e.desc, source)
	c.metrics.PipelineCompileDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		if p != nil {
			p.Release()
		}
		return
	}
	if err != nil {
		c.fail(e, err)
		return
	}

	e.state = State{Status: StatusReady}
	c.ready.Add(e.handle, p)
	c.metrics.PipelineCompiles.WithLabelValues("ready").Inc()
	c.logger.Info("compute pipeline ready",
		zap.String("shader", e.desc.ShaderRef),
		zap.String("entry_point", e.desc.EntryPoint),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (c *cache) build(desc Descriptor, source string) (Pipeline, error) {
	options := append([]shader.ShaderBuilderOption(nil), c.shaderOptions...)
	for k, v := range desc.Constants {
		options = append(options, shader.WithConstant(k, v))
	}

	s, err := shader.NewShader(desc.ShaderRef, shader.ShaderTypeCompute, source, options...)
	if err != nil {
		return nil, err
	}
	if !s.HasEntryPoint(desc.EntryPoint) {
		return nil, fmt.Errorf("no @compute entry point named %q", desc.EntryPoint)
	}
	if err := desc.Contract.Check(s); err != nil {
		return nil, err
	}

	cp, err := c.dev.CreateComputePipeline(device.ComputePipelineDescriptor{
		Label:      desc.Label,
		Source:     s.Source(),
		EntryPoint: desc.EntryPoint,
		Layouts:    []wgpu.BindGroupLayoutDescriptor{desc.Contract.Descriptor()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute pipeline: %w", err)
	}

	p := NewPipeline(desc.Key(), PipelineTypeCompute, WithComputeShader(s))
	p.SetComputePipeline(cp)
	return p, nil
}

// fail marks an entry failed. Callers hold c.mu.
func (c *cache) fail(e *cacheEntry, err error) {
	e.state = State{Status: StatusFailed, Err: &CompileError{
		ShaderRef:  e.desc.ShaderRef,
		EntryPoint: e.desc.EntryPoint,
		Err:        err,
	}}
	c.metrics.PipelineCompiles.WithLabelValues("failed").Inc()
	c.logger.Error("compute pipeline failed", zap.Error(e.state.Err))
}

// onEvict runs inside ready.Add or ready.Purge, which are only called with c.mu held.
func (c *cache) onEvict(h Handle, p Pipeline) {
	p.Release()
	c.metrics.PipelineEvictions.Inc()
	if e, ok := c.entries[h]; ok && !c.released {
		e.state = State{Status: StatusQueued}
		c.logger.Debug("evicted compute pipeline", zap.String("key", e.desc.Key()))
	}
}

func (c *cache) Wait() {
	c.wg.Wait()
}

func (c *cache) Release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready.Purge()
}
