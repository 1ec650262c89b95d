package bind_group_provider

import (
	"maps"
	"slices"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label, also used for the created bind group.
	label string

	// bindGroup is the GPU bind group created for this provider, or nil until Init.
	bindGroup device.BindGroup

	// buffers holds the buffers bound by this provider, keyed by binding index.
	buffers map[int]device.Buffer
	// textureViews holds the texture views bound by this provider, keyed by binding index.
	textureViews map[int]device.TextureView
}

// BindGroupProvider pairs the resources of one bind group with the bind group created
// from them. The resources are borrowed; Release only destroys the bind group.
//
// Usage pattern:
//  1. Create a provider with the texture views and buffers for each binding
//  2. Call Init with the layout to create the GPU bind group
//  3. Set BindGroup() on a compute or render pass
type BindGroupProvider interface {
	// Release releases the bind group. Bound resources are owned elsewhere and left alone.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// BindGroup returns the created bind group, or nil before Init.
	//
	// Returns:
	//   - device.BindGroup: the bind group or nil
	BindGroup() device.BindGroup

	// Buffer returns the buffer bound at a binding index, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - device.Buffer: the buffer or nil
	Buffer(binding int) device.Buffer

	// TextureView returns the texture view bound at a binding index, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - device.TextureView: the texture view or nil
	TextureView(binding int) device.TextureView

	// Entries returns the bind group entries in binding order.
	//
	// Returns:
	//   - []device.BindGroupEntry: one entry per bound resource
	Entries() []device.BindGroupEntry

	// Init creates the bind group against a layout, releasing any previous one.
	//
	// Parameters:
	//   - dev: the device to create the bind group on
	//   - layout: the layout the entries satisfy
	//
	// Returns:
	//   - error: an error if bind group creation fails
	Init(dev device.Device, layout device.BindGroupLayout) error
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a provider with no GPU bind group.
//
// Parameters:
//   - label: debug label for the provider and its bind group
//   - options: BindGroupProviderOption values binding resources
//
// Returns:
//   - BindGroupProvider: the new provider
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:        label,
		buffers:      make(map[int]device.Buffer),
		textureViews: make(map[int]device.TextureView),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Release() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() device.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) Buffer(binding int) device.Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) TextureView(binding int) device.TextureView {
	return p.textureViews[binding]
}

func (p *bindGroupProvider) Entries() []device.BindGroupEntry {
	bindings := slices.Collect(maps.Keys(p.textureViews))
	bindings = append(bindings, slices.Collect(maps.Keys(p.buffers))...)
	slices.Sort(bindings)

	entries := make([]device.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		entry := device.BindGroupEntry{Binding: uint32(b)}
		if view, ok := p.textureViews[b]; ok {
			entry.TextureView = view
		} else {
			entry.Buffer = p.buffers[b]
		}
		entries = append(entries, entry)
	}
	return entries
}

func (p *bindGroupProvider) Init(dev device.Device, layout device.BindGroupLayout) error {
	bg, err := dev.CreateBindGroup(device.BindGroupDescriptor{
		Label:   p.label,
		Layout:  layout,
		Entries: p.Entries(),
	})
	if err != nil {
		return err
	}
	p.Release()
	p.bindGroup = bg
	return nil
}
