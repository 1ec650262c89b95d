// Package node is the render-graph node that dispatches the compute shader once its
// pipeline is ready.
package node

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"go.uber.org/zap"
)

// DefaultWorkgroupSize is the workgroup edge length used when none is configured.
const DefaultWorkgroupSize = 8

// Gate reports the compute pipeline's compilation state.
type Gate interface {
	Poll() pipeline.State
	Pipeline() (pipeline.Pipeline, bool)
}

// BindGroups selects the bind group for a parity.
type BindGroups interface {
	BindGroup(parity uint32) device.BindGroup
}

// UniformCopier records the staging to uniform copy ahead of a dispatch.
type UniformCopier interface {
	RecordCopy(enc device.CommandEncoder, staging, uniform device.Buffer) error
}

// Frame carries everything Run records against for one tick.
type Frame struct {
	Encoder    device.CommandEncoder
	BindGroups BindGroups
	Width      uint32
	Height     uint32

	// Staging and Uniform are only set in the uniform variant.
	Staging device.Buffer
	Uniform device.Buffer
}

type node struct {
	label         string
	variant       resources.Variant
	workgroupSize uint32

	gate     Gate
	uniforms UniformCopier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	state  State
	warned bool
}

// Node advances with the pipeline gate and records the compute dispatch.
type Node interface {
	// Update polls the gate once and applies Transition.
	//
	// Returns:
	//   - error: the compile error if the pipeline failed, or a workgroup size mismatch
	//     between the configuration and the compiled shader
	Update() error

	// Run records this tick's commands. Nothing is recorded while loading. Once ready it
	// records the uniform copy (uniform variant), one compute pass and, in the ping-pong
	// variant, flips the parity after the dispatch.
	//
	// Parameters:
	//   - f: the frame to record into
	//
	// Returns:
	//   - error: an error if a command could not be recorded
	Run(f Frame) error

	// State returns the current state.
	State() State
}

var _ Node = &node{}

// NewNode creates a node in the Loading state.
//
// Parameters:
//   - gate: the pipeline gate to poll
//   - variant: the buffering variant of the bound resources
//   - options: optional NodeBuilderOption values
//
// Returns:
//   - Node: the new node
//   - error: an error if the uniform variant has no UniformCopier
func NewNode(gate Gate, variant resources.Variant, options ...NodeBuilderOption) (Node, error) {
	n := &node{
		label:         "checker board",
		variant:       variant,
		workgroupSize: DefaultWorkgroupSize,
		gate:          gate,
	}
	for _, opt := range options {
		opt(n)
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	if n.metrics == nil {
		n.metrics = metrics.New()
	}
	if variant == resources.VariantUniform && n.uniforms == nil {
		return nil, errors.New("uniform variant node requires a uniform copier")
	}
	if n.workgroupSize == 0 {
		return nil, errors.New("workgroup size must be positive")
	}
	return n, nil
}

func (n *node) State() State {
	return n.state
}

func (n *node) Update() error {
	next, err := Transition(n.state, n.gate.Poll())
	if err != nil {
		return err
	}

	if n.state.Phase == PhaseLoading && next.Phase == PhaseReady {
		if err := n.checkWorkgroupSize(); err != nil {
			return err
		}
		n.metrics.NodeReady.Set(1)
		n.logger.Info("compute node ready", zap.String("node", n.label), zap.Stringer("variant", n.variant))
	}
	n.state = next

	if n.state.Phase == PhaseLoading {
		n.metrics.LoadingTicks.Inc()
	}
	return nil
}

func (n *node) checkWorkgroupSize() error {
	p, ok := n.gate.Pipeline()
	if !ok {
		return nil
	}
	s := p.Shader(shader.ShaderTypeCompute)
	if s == nil {
		return nil
	}
	ws := s.WorkgroupSize()
	if ws[0] != n.workgroupSize || ws[1] != n.workgroupSize {
		return fmt.Errorf("shader %s declares @workgroup_size(%d, %d), configured %d", s.Key(), ws[0], ws[1], n.workgroupSize)
	}
	return nil
}

func (n *node) Run(f Frame) error {
	if n.state.Phase != PhaseReady {
		return nil
	}

	p, ok := n.gate.Pipeline()
	if !ok {
		// Evicted; the cache recompiles it and the tick is skipped.
		n.logger.Debug("compute pipeline not resident, skipping dispatch", zap.String("node", n.label))
		return nil
	}
	bg := f.BindGroups.BindGroup(n.state.Parity)
	if bg == nil {
		return fmt.Errorf("%s: no bind group prepared for parity %d", n.label, n.state.Parity)
	}

	if n.variant == resources.VariantUniform {
		if err := n.uniforms.RecordCopy(f.Encoder, f.Staging, f.Uniform); err != nil {
			return fmt.Errorf("%s: %w", n.label, err)
		}
	}

	count := WorkgroupCount(f.Width, f.Height, n.workgroupSize)
	n.warnTruncation(f.Width, f.Height)

	pass := f.Encoder.BeginComputePass(n.label)
	pass.SetPipeline(p.ComputePipeline())
	pass.SetBindGroup(0, bg)
	pass.DispatchWorkgroups(count[0], count[1], count[2])
	if err := pass.End(); err != nil {
		return fmt.Errorf("%s: failed to end compute pass: %w", n.label, err)
	}
	n.metrics.Dispatches.Inc()

	if n.variant == resources.VariantPingPong {
		n.state.Parity ^= 1
	}
	return nil
}

func (n *node) warnTruncation(width, height uint32) {
	if n.warned {
		return
	}
	n.warned = true
	if rx, ry := width%n.workgroupSize, height%n.workgroupSize; rx != 0 || ry != 0 {
		n.logger.Warn("texture size is not a multiple of the workgroup size, edge texels are not dispatched",
			zap.Uint32("width", width),
			zap.Uint32("height", height),
			zap.Uint32("workgroup_size", n.workgroupSize),
			zap.Uint32("uncovered_columns", rx),
			zap.Uint32("uncovered_rows", ry),
		)
	}
}
