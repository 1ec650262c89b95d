package device

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuDevice struct {
	device *wgpu.Device
	queue  *wgpu.Queue
}

var _ Device = &wgpuDevice{}

// NewWGPUDevice wraps an initialized wgpu device and its queue.
//
// Parameters:
//   - d: the wgpu device
//   - q: the device's queue
//
// Returns:
//   - Device: the wrapped device
func NewWGPUDevice(d *wgpu.Device, q *wgpu.Queue) Device {
	return &wgpuDevice{device: d, queue: q}
}

func (d *wgpuDevice) CreateTexture(desc TextureDescriptor) (Texture, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     desc.Usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        desc.Format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{desc: desc, texture: tex, view: &wgpuTextureView{view: view}}, nil
}

func (d *wgpuDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBuffer{desc: desc, buffer: buf}, nil
}

func (d *wgpuDevice) CreateBindGroupLayout(desc wgpu.BindGroupLayoutDescriptor) (BindGroupLayout, error) {
	layout, err := d.device.CreateBindGroupLayout(&desc)
	if err != nil {
		return nil, err
	}
	return &wgpuBindGroupLayout{layout: layout}, nil
}

func (d *wgpuDevice) CreateBindGroup(desc BindGroupDescriptor) (BindGroup, error) {
	layout, ok := desc.Layout.(*wgpuBindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("bind group %q: layout was not created by this device", desc.Label)
	}

	entries := make([]wgpu.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entry := wgpu.BindGroupEntry{Binding: e.Binding}
		switch {
		case e.TextureView != nil:
			view, ok := e.TextureView.(*wgpuTextureView)
			if !ok {
				return nil, fmt.Errorf("bind group %q: binding %d texture view was not created by this device", desc.Label, e.Binding)
			}
			entry.TextureView = view.view
		case e.Buffer != nil:
			buf, ok := e.Buffer.(*wgpuBuffer)
			if !ok {
				return nil, fmt.Errorf("bind group %q: binding %d buffer was not created by this device", desc.Label, e.Binding)
			}
			entry.Buffer = buf.buffer
			entry.Offset = 0
			entry.Size = wgpu.WholeSize
			if e.Size > 0 {
				entry.Size = e.Size
			}
		default:
			return nil, fmt.Errorf("bind group %q: binding %d has no resource", desc.Label, e.Binding)
		}
		entries[i] = entry
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBindGroup{label: desc.Label, group: bg}, nil
}

func (d *wgpuDevice) CreateComputePipeline(desc ComputePipelineDescriptor) (ComputePipeline, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Source,
		},
	})
	if err != nil {
		return nil, err
	}
	defer module.Release()

	bindGroupLayouts := make([]*wgpu.BindGroupLayout, len(desc.Layouts))
	for g := range desc.Layouts {
		layout, layoutErr := d.device.CreateBindGroupLayout(&desc.Layouts[g])
		if layoutErr != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, layoutErr)
		}
		defer layout.Release()
		bindGroupLayouts[g] = layout
	}

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return nil, err
	}
	defer layout.Release()

	created, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, err
	}
	return &wgpuComputePipeline{label: desc.Label, pipeline: created}, nil
}

func (d *wgpuDevice) CreateCommandEncoder(label string) (CommandEncoder, error) {
	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, err
	}
	return &wgpuCommandEncoder{encoder: encoder}, nil
}

func (d *wgpuDevice) Submit(buffers ...CommandBuffer) {
	raw := make([]*wgpu.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		if cb, ok := b.(*wgpuCommandBuffer); ok {
			raw = append(raw, cb.buffer)
		}
	}
	if len(raw) == 0 {
		return
	}
	d.queue.Submit(raw...)
}

func (d *wgpuDevice) Poll(wait bool) {
	d.device.Poll(wait, nil)
}

type wgpuTexture struct {
	desc    TextureDescriptor
	texture *wgpu.Texture
	view    *wgpuTextureView
}

func (t *wgpuTexture) Label() string              { return t.desc.Label }
func (t *wgpuTexture) Width() uint32              { return t.desc.Width }
func (t *wgpuTexture) Height() uint32             { return t.desc.Height }
func (t *wgpuTexture) Format() wgpu.TextureFormat { return t.desc.Format }
func (t *wgpuTexture) Usage() wgpu.TextureUsage   { return t.desc.Usage }
func (t *wgpuTexture) View() TextureView          { return t.view }

func (t *wgpuTexture) Release() {
	t.view.Release()
	t.texture.Release()
}

type wgpuTextureView struct {
	view *wgpu.TextureView
}

func (v *wgpuTextureView) Release() {
	if v.view != nil {
		v.view.Release()
		v.view = nil
	}
}

type wgpuBuffer struct {
	desc   BufferDescriptor
	buffer *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string           { return b.desc.Label }
func (b *wgpuBuffer) Size() uint64            { return b.desc.Size }
func (b *wgpuBuffer) Usage() wgpu.BufferUsage { return b.desc.Usage }

func (b *wgpuBuffer) MapAsync(mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error {
	return b.buffer.MapAsync(mode, offset, size, callback)
}

func (b *wgpuBuffer) MappedRange(offset, size uint64) []byte {
	return b.buffer.GetMappedRange(uint(offset), uint(size))
}

func (b *wgpuBuffer) Unmap() error {
	return b.buffer.Unmap()
}

func (b *wgpuBuffer) Release() {
	b.buffer.Release()
}

type wgpuBindGroupLayout struct {
	layout *wgpu.BindGroupLayout
}

func (l *wgpuBindGroupLayout) Release() {
	l.layout.Release()
}

type wgpuBindGroup struct {
	label string
	group *wgpu.BindGroup
}

func (g *wgpuBindGroup) Label() string { return g.label }
func (g *wgpuBindGroup) Release()      { g.group.Release() }

type wgpuComputePipeline struct {
	label    string
	pipeline *wgpu.ComputePipeline
}

func (p *wgpuComputePipeline) Label() string { return p.label }
func (p *wgpuComputePipeline) Release()      { p.pipeline.Release() }

type wgpuCommandBuffer struct {
	buffer *wgpu.CommandBuffer
}

func (c *wgpuCommandBuffer) Release() {
	c.buffer.Release()
}

type wgpuCommandEncoder struct {
	encoder *wgpu.CommandEncoder
}

func (e *wgpuCommandEncoder) CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) error {
	s, ok := src.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("copy source %q was not created by this device", src.Label())
	}
	d, ok := dst.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("copy destination %q was not created by this device", dst.Label())
	}
	e.encoder.CopyBufferToBuffer(s.buffer, srcOffset, d.buffer, dstOffset, size)
	return nil
}

func (e *wgpuCommandEncoder) BeginComputePass(label string) ComputePass {
	return &wgpuComputePass{pass: e.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})}
}

func (e *wgpuCommandEncoder) Finish() (CommandBuffer, error) {
	cb, err := e.encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	return &wgpuCommandBuffer{buffer: cb}, nil
}

func (e *wgpuCommandEncoder) Release() {
	e.encoder.Release()
}

type wgpuComputePass struct {
	pass *wgpu.ComputePassEncoder
}

func (p *wgpuComputePass) SetPipeline(cp ComputePipeline) {
	if raw, ok := cp.(*wgpuComputePipeline); ok {
		p.pass.SetPipeline(raw.pipeline)
	}
}

func (p *wgpuComputePass) SetBindGroup(index uint32, bg BindGroup) {
	p.pass.SetBindGroup(index, RawBindGroup(bg), nil)
}

func (p *wgpuComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *wgpuComputePass) End() error {
	p.pass.End()
	p.pass.Release()
	return nil
}

// RawBindGroup returns the wgpu bind group behind bg, or nil if bg is not wgpu backed.
func RawBindGroup(bg BindGroup) *wgpu.BindGroup {
	if w, ok := bg.(*wgpuBindGroup); ok {
		return w.group
	}
	return nil
}

// RawBindGroupLayout returns the wgpu layout behind l, or nil if l is not wgpu backed.
func RawBindGroupLayout(l BindGroupLayout) *wgpu.BindGroupLayout {
	if w, ok := l.(*wgpuBindGroupLayout); ok {
		return w.layout
	}
	return nil
}
