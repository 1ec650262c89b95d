// Package driver moves state across the simulation/render boundary. Once per render
// frame it extracts the resource handles the render side records against; once per
// simulation tick it advances the presentation state.
package driver

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/display"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
)

// FrameContext is the render-side view of one frame. The coordinator owns it and hands
// it to each phase; nothing in it is global.
type FrameContext struct {
	// Frame counts extractions, starting at 1.
	Frame uint64

	Resources bind_group_provider.Resources
	Staging   device.Buffer
	Width     uint32
	Height    uint32

	// Displayed is the texture the sprite showed when the frame was extracted.
	Displayed device.Texture
}

// Driver extracts pool handles into a FrameContext and toggles the sprite.
type Driver struct {
	pool    resources.Pool
	sprite  *display.Sprite
	metrics *metrics.Metrics
	frames  uint64
}

// NewDriver creates a Driver over a pool and the sprite displaying it.
//
// Parameters:
//   - pool: the compute resources
//   - sprite: the sprite whose texture selection is toggled each tick
//   - m: collectors for tick counts, or nil
//
// Returns:
//   - *Driver: the driver
func NewDriver(pool resources.Pool, sprite *display.Sprite, m *metrics.Metrics) *Driver {
	if m == nil {
		m = metrics.New()
	}
	return &Driver{pool: pool, sprite: sprite, metrics: m}
}

// Extract overwrites ctx with this frame's handles. Must run on the render goroutine.
func (d *Driver) Extract(ctx *FrameContext) {
	d.frames++
	w, h := d.pool.Size()
	*ctx = FrameContext{
		Frame: d.frames,
		Resources: bind_group_provider.Resources{
			Variant:  d.pool.Variant(),
			Layout:   d.pool.BindGroupLayout(),
			Textures: d.pool.Textures(),
			Uniform:  d.pool.UniformBuffer(),
		},
		Staging:   d.pool.StagingBuffer(),
		Width:     w,
		Height:    h,
		Displayed: d.sprite.Current(),
	}
}

// Tick runs once per simulation tick and swaps the displayed texture. It is not tied
// to the compute node's parity; the two alternate independently.
func (d *Driver) Tick() {
	d.sprite.Toggle()
	d.metrics.Ticks.Inc()
}
