// Package devicetest provides an in-memory device.Device that records every command
// it is asked to encode. Map callbacks fire from Poll, the same way a real device
// delivers them.
package devicetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/cogentcore/webgpu/wgpu"
)

// ErrInjected is returned by Create* calls when failure injection is armed.
var ErrInjected = errors.New("devicetest: injected failure")

// Device is a recording fake. The zero value is not usable; use New.
type Device struct {
	mu sync.Mutex

	// HoldMaps keeps map callbacks pending across Poll calls until FlushMaps.
	HoldMaps bool
	// FailMaps completes every map request with a validation error status.
	FailMaps bool
	// RejectMaps makes MapAsync fire the callback with a validation error status and
	// then return an error, the way wgpu reports a request it refuses outright.
	RejectMaps bool
	// FailUnmaps makes Buffer.Unmap return ErrInjected.
	FailUnmaps bool
	// FailPipelines makes CreateComputePipeline return ErrInjected.
	FailPipelines bool
	// FailBindGroups makes CreateBindGroup return ErrInjected.
	FailBindGroups bool

	Textures   []*Texture
	Buffers    []*Buffer
	Layouts    []*BindGroupLayout
	BindGroups []*BindGroup
	Pipelines  []*ComputePipeline
	Encoders   []*Encoder

	// Submitted holds the command log of every submitted buffer, in submission order.
	Submitted [][]string
	Polls     int
	WaitPolls int

	pending []pendingMap
}

var _ device.Device = &Device{}

type pendingMap struct {
	buffer   *Buffer
	callback func(wgpu.BufferMapAsyncStatus)
}

// New returns an empty recording device.
func New() *Device {
	return &Device{}
}

func (d *Device) CreateTexture(desc device.TextureDescriptor) (device.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &Texture{Desc: desc, view: &TextureView{Owner: desc.Label}}
	d.Textures = append(d.Textures, t)
	return t, nil
}

func (d *Device) CreateBuffer(desc device.BufferDescriptor) (device.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &Buffer{Desc: desc, Data: make([]byte, desc.Size), dev: d}
	d.Buffers = append(d.Buffers, b)
	return b, nil
}

func (d *Device) CreateBindGroupLayout(desc wgpu.BindGroupLayoutDescriptor) (device.BindGroupLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &BindGroupLayout{Desc: desc}
	d.Layouts = append(d.Layouts, l)
	return l, nil
}

func (d *Device) CreateBindGroup(desc device.BindGroupDescriptor) (device.BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailBindGroups {
		return nil, ErrInjected
	}
	bg := &BindGroup{Desc: desc}
	d.BindGroups = append(d.BindGroups, bg)
	return bg, nil
}

func (d *Device) CreateComputePipeline(desc device.ComputePipelineDescriptor) (device.ComputePipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPipelines {
		return nil, ErrInjected
	}
	p := &ComputePipeline{Desc: desc}
	d.Pipelines = append(d.Pipelines, p)
	return p, nil
}

func (d *Device) CreateCommandEncoder(label string) (device.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &Encoder{Label: label}
	d.Encoders = append(d.Encoders, e)
	return e, nil
}

func (d *Device) Submit(buffers ...device.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		if cb, ok := b.(*CommandBuffer); ok {
			d.Submitted = append(d.Submitted, cb.Commands)
		}
	}
}

// Poll fires pending map callbacks unless HoldMaps is set.
func (d *Device) Poll(wait bool) {
	d.mu.Lock()
	d.Polls++
	if wait {
		d.WaitPolls++
	}
	hold := d.HoldMaps
	d.mu.Unlock()
	if !hold {
		d.FlushMaps()
	}
}

// FlushMaps completes every pending map request, firing callbacks outside the lock.
func (d *Device) FlushMaps() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	fail := d.FailMaps
	d.mu.Unlock()

	for _, p := range pending {
		status := wgpu.BufferMapAsyncStatusSuccess
		if fail {
			status = wgpu.BufferMapAsyncStatusValidationError
		}
		p.buffer.complete(status == wgpu.BufferMapAsyncStatusSuccess)
		p.callback(status)
	}
}

// PendingMaps reports the number of map requests awaiting a Poll.
func (d *Device) PendingMaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// SubmittedCommands flattens the command logs of every submission.
func (d *Device) SubmittedCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.Submitted {
		out = append(out, s...)
	}
	return out
}

// PipelineCount returns how many compute pipelines have been created.
func (d *Device) PipelineCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Pipelines)
}

// Texture is a fake texture.
type Texture struct {
	Desc     device.TextureDescriptor
	Released bool
	view     *TextureView
}

func (t *Texture) Label() string              { return t.Desc.Label }
func (t *Texture) Width() uint32              { return t.Desc.Width }
func (t *Texture) Height() uint32             { return t.Desc.Height }
func (t *Texture) Format() wgpu.TextureFormat { return t.Desc.Format }
func (t *Texture) Usage() wgpu.TextureUsage   { return t.Desc.Usage }
func (t *Texture) View() device.TextureView   { return t.view }

func (t *Texture) Release() {
	t.Released = true
	t.view.Release()
}

// TextureView is a fake view. Owner is the label of the texture it belongs to.
type TextureView struct {
	Owner    string
	Released bool
}

func (v *TextureView) Release() { v.Released = true }

// Buffer is a fake buffer backed by a byte slice.
type Buffer struct {
	Desc     device.BufferDescriptor
	Data     []byte
	Released bool

	dev    *Device
	mu     sync.Mutex
	state  string
	Unmaps int
}

func (b *Buffer) Label() string           { return b.Desc.Label }
func (b *Buffer) Size() uint64            { return b.Desc.Size }
func (b *Buffer) Usage() wgpu.BufferUsage { return b.Desc.Usage }

func (b *Buffer) MapAsync(mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error {
	b.mu.Lock()
	if b.state != "" {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("devicetest: buffer %q is already %s", b.Desc.Label, state)
	}
	if offset+size > b.Desc.Size {
		b.mu.Unlock()
		return fmt.Errorf("devicetest: map range %d+%d exceeds buffer %q size %d", offset, size, b.Desc.Label, b.Desc.Size)
	}
	b.dev.mu.Lock()
	reject := b.dev.RejectMaps
	b.dev.mu.Unlock()
	if reject {
		b.mu.Unlock()
		callback(wgpu.BufferMapAsyncStatusValidationError)
		return fmt.Errorf("devicetest: map of %q rejected", b.Desc.Label)
	}
	b.state = "pending"
	b.mu.Unlock()

	b.dev.mu.Lock()
	b.dev.pending = append(b.dev.pending, pendingMap{buffer: b, callback: callback})
	b.dev.mu.Unlock()
	return nil
}

func (b *Buffer) complete(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.state = "mapped"
	} else {
		b.state = ""
	}
}

func (b *Buffer) MappedRange(offset, size uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != "mapped" {
		return nil
	}
	return b.Data[offset : offset+size]
}

func (b *Buffer) Unmap() error {
	b.dev.mu.Lock()
	fail := b.dev.FailUnmaps
	b.dev.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = ""
	b.Unmaps++
	if fail {
		return ErrInjected
	}
	return nil
}

// Mapped reports whether the buffer is currently mapped or has a map pending.
func (b *Buffer) Mapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != ""
}

func (b *Buffer) Release() { b.Released = true }

// BindGroupLayout is a fake layout that keeps its descriptor for inspection.
type BindGroupLayout struct {
	Desc     wgpu.BindGroupLayoutDescriptor
	Released bool
}

func (l *BindGroupLayout) Release() { l.Released = true }

// BindGroup is a fake bind group.
type BindGroup struct {
	Desc     device.BindGroupDescriptor
	Released bool
}

func (g *BindGroup) Label() string { return g.Desc.Label }
func (g *BindGroup) Release()      { g.Released = true }

// ComputePipeline is a fake compute pipeline.
type ComputePipeline struct {
	Desc     device.ComputePipelineDescriptor
	Released bool
}

func (p *ComputePipeline) Label() string { return p.Desc.Label }
func (p *ComputePipeline) Release()      { p.Released = true }

// CommandBuffer carries the encoder log into Submit.
type CommandBuffer struct {
	Commands []string
}

func (c *CommandBuffer) Release() {}

// Encoder records commands as readable strings.
type Encoder struct {
	Label    string
	Commands []string
	Released bool
	open     bool
	finished bool
}

func (e *Encoder) CopyBufferToBuffer(src device.Buffer, srcOffset uint64, dst device.Buffer, dstOffset, size uint64) error {
	if e.open {
		return errors.New("devicetest: copy recorded inside an open pass")
	}
	if src.Usage()&wgpu.BufferUsageCopySrc == 0 {
		return fmt.Errorf("devicetest: %q lacks CopySrc", src.Label())
	}
	if dst.Usage()&wgpu.BufferUsageCopyDst == 0 {
		return fmt.Errorf("devicetest: %q lacks CopyDst", dst.Label())
	}
	for _, b := range []device.Buffer{src, dst} {
		if fb, ok := b.(*Buffer); ok && fb.Mapped() {
			return fmt.Errorf("devicetest: %q is still mapped", fb.Label())
		}
	}
	e.Commands = append(e.Commands, fmt.Sprintf("copy %s->%s %d", src.Label(), dst.Label(), size))
	if s, ok := src.(*Buffer); ok {
		if d, ok := dst.(*Buffer); ok {
			copy(d.Data[dstOffset:dstOffset+size], s.Data[srcOffset:srcOffset+size])
		}
	}
	return nil
}

func (e *Encoder) BeginComputePass(label string) device.ComputePass {
	e.open = true
	e.Commands = append(e.Commands, "begin "+label)
	return &computePass{enc: e}
}

func (e *Encoder) Finish() (device.CommandBuffer, error) {
	if e.open {
		return nil, errors.New("devicetest: finish with an open pass")
	}
	if e.finished {
		return nil, errors.New("devicetest: encoder already finished")
	}
	e.finished = true
	return &CommandBuffer{Commands: append([]string(nil), e.Commands...)}, nil
}

func (e *Encoder) Release() { e.Released = true }

type computePass struct {
	enc *Encoder
}

func (p *computePass) SetPipeline(cp device.ComputePipeline) {
	p.enc.Commands = append(p.enc.Commands, "pipeline "+cp.Label())
}

func (p *computePass) SetBindGroup(index uint32, bg device.BindGroup) {
	p.enc.Commands = append(p.enc.Commands, fmt.Sprintf("bindgroup %d %s", index, bg.Label()))
}

func (p *computePass) DispatchWorkgroups(x, y, z uint32) {
	p.enc.Commands = append(p.enc.Commands, fmt.Sprintf("dispatch %d %d %d", x, y, z))
}

func (p *computePass) End() error {
	p.enc.open = false
	p.enc.Commands = append(p.enc.Commands, "end")
	return nil
}
