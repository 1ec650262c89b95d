// Package device is the thin handle layer between the compute core and the GPU API.
// Descriptors and enums come straight from the wgpu bindings; the handles are interfaces
// so the render node, resource pool and uniform path can be exercised without a GPU.
package device

import "github.com/cogentcore/webgpu/wgpu"

// Texture is a GPU resident 2D image with a default view.
type Texture interface {
	// Label returns the debug label the texture was created with.
	Label() string

	// Width returns the texture width in texels.
	Width() uint32

	// Height returns the texture height in texels.
	Height() uint32

	// Format returns the texel format.
	Format() wgpu.TextureFormat

	// Usage returns the usage flags the texture was created with.
	Usage() wgpu.TextureUsage

	// View returns the default full-texture view, created once alongside the texture.
	View() TextureView

	// Release destroys the texture and its default view.
	Release()
}

// TextureView is an opaque view onto a Texture.
type TextureView interface {
	Release()
}

// Buffer is a linear GPU allocation.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	Label() string

	// Size returns the buffer size in bytes.
	Size() uint64

	// Usage returns the usage flags the buffer was created with.
	Usage() wgpu.BufferUsage

	// MapAsync requests an asynchronous mapping of the given range. The callback fires
	// from within a later Device.Poll call. A request the device rejects may fire the
	// callback with an error status before MapAsync returns its error.
	//
	// Parameters:
	//   - mode: wgpu.MapModeRead or wgpu.MapModeWrite
	//   - offset: byte offset of the mapped range
	//   - size: byte size of the mapped range
	//   - callback: invoked once with the completion status
	//
	// Returns:
	//   - error: an error if the request could not be issued
	MapAsync(mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error

	// MappedRange returns the CPU visible bytes of a completed mapping.
	//
	// Parameters:
	//   - offset: byte offset into the mapping
	//   - size: number of bytes
	//
	// Returns:
	//   - []byte: the mapped bytes, only valid until Unmap
	MappedRange(offset, size uint64) []byte

	// Unmap returns a mapped buffer to the GPU.
	Unmap() error

	// Release destroys the buffer.
	Release()
}

// BindGroupLayout is a created bind group layout.
type BindGroupLayout interface {
	Release()
}

// BindGroup is an immutable binding of concrete resources to a layout.
type BindGroup interface {
	Label() string
	Release()
}

// ComputePipeline is a compiled compute program with its layout.
type ComputePipeline interface {
	Label() string
	Release()
}

// CommandBuffer is a finished, submittable command sequence.
type CommandBuffer interface {
	Release()
}

// ComputePass records compute commands inside a CommandEncoder.
type ComputePass interface {
	SetPipeline(p ComputePipeline)
	SetBindGroup(index uint32, bg BindGroup)
	DispatchWorkgroups(x, y, z uint32)
	End() error
}

// CommandEncoder records GPU commands for a single submission.
type CommandEncoder interface {
	// CopyBufferToBuffer records a copy of size bytes from src into dst.
	//
	// Parameters:
	//   - src: the source buffer, must carry wgpu.BufferUsageCopySrc
	//   - srcOffset: byte offset into src
	//   - dst: the destination buffer, must carry wgpu.BufferUsageCopyDst
	//   - dstOffset: byte offset into dst
	//   - size: number of bytes to copy
	//
	// Returns:
	//   - error: an error if the copy could not be recorded
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) error

	// BeginComputePass opens a compute pass. The pass must be ended before Finish.
	BeginComputePass(label string) ComputePass

	// Finish closes the encoder and returns the recorded commands.
	Finish() (CommandBuffer, error)

	// Release frees the encoder.
	Release()
}

// TextureDescriptor describes a single-mip, single-sample 2D texture.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format wgpu.TextureFormat
	Usage  wgpu.TextureUsage
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage wgpu.BufferUsage
}

// BindGroupEntry binds either a texture view or a buffer range to a binding index.
// A zero Size binds the whole buffer.
type BindGroupEntry struct {
	Binding     uint32
	TextureView TextureView
	Buffer      Buffer
	Size        uint64
}

// BindGroupDescriptor describes a bind group against an existing layout.
type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayout
	Entries []BindGroupEntry
}

// ComputePipelineDescriptor describes a compute pipeline built from WGSL source.
// Layouts are indexed by bind group number.
type ComputePipelineDescriptor struct {
	Label      string
	Source     string
	EntryPoint string
	Layouts    []wgpu.BindGroupLayoutDescriptor
}

// Device creates GPU objects and submits recorded work.
type Device interface {
	// CreateTexture allocates a 2D texture and its default view.
	CreateTexture(desc TextureDescriptor) (Texture, error)

	// CreateBuffer allocates a buffer.
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// CreateBindGroupLayout creates a bind group layout from a wgpu descriptor.
	CreateBindGroupLayout(desc wgpu.BindGroupLayoutDescriptor) (BindGroupLayout, error)

	// CreateBindGroup creates a bind group.
	CreateBindGroup(desc BindGroupDescriptor) (BindGroup, error)

	// CreateComputePipeline compiles WGSL source into a compute pipeline. Safe to call
	// from a goroutine other than the render goroutine.
	CreateComputePipeline(desc ComputePipelineDescriptor) (ComputePipeline, error)

	// CreateCommandEncoder opens a new command encoder.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit queues finished command buffers for execution.
	Submit(buffers ...CommandBuffer)

	// Poll drives outstanding device work and fires pending map callbacks.
	//
	// Parameters:
	//   - wait: when true, block until all submitted work has completed
	Poll(wait bool)
}
