package shader

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// ErrContractMismatch is wrapped by every error returned from Contract.Check.
var ErrContractMismatch = errors.New("shader does not match binding contract")

// Contract is the host-side view of the bind group a shader must declare. The host
// creates its layout from Entries, so a shader that disagrees would fail at pipeline
// creation with a far less useful message.
type Contract struct {
	Label   string
	Group   int
	Entries []wgpu.BindGroupLayoutEntry
}

// Descriptor returns the layout descriptor the host binds against.
func (c Contract) Descriptor() wgpu.BindGroupLayoutDescriptor {
	return wgpu.BindGroupLayoutDescriptor{
		Label:   c.Label,
		Entries: c.Entries,
	}
}

// Check compares the shader's declared layout for the contract group against the
// contract entries. Every contract binding must be declared with a compatible kind
// and no other binding or group may be declared.
//
// Parameters:
//   - s: the parsed shader
//
// Returns:
//   - error: nil when compatible, otherwise an error wrapping ErrContractMismatch
//     that lists every difference
func (c Contract) Check(s Shader) error {
	var errs []error

	for g := range s.BindGroupLayoutDescriptors() {
		if g != c.Group {
			errs = append(errs, fmt.Errorf("unexpected bind group %d", g))
		}
	}

	declared := make(map[uint32]wgpu.BindGroupLayoutEntry)
	for _, e := range s.BindGroupLayoutDescriptor(c.Group).Entries {
		declared[e.Binding] = e
	}

	for _, want := range c.Entries {
		got, ok := declared[want.Binding]
		if !ok {
			errs = append(errs, fmt.Errorf("binding %d is not declared", want.Binding))
			continue
		}
		delete(declared, want.Binding)
		if err := compareEntry(want, got); err != nil {
			errs = append(errs, fmt.Errorf("binding %d (%s): %w", want.Binding, s.BindingName(c.Group, int(want.Binding)), err))
		}
	}
	for binding := range declared {
		errs = append(errs, fmt.Errorf("binding %d is not provided by the host", binding))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", s.Key(), ErrContractMismatch, errors.Join(errs...))
}

func compareEntry(want, got wgpu.BindGroupLayoutEntry) error {
	switch {
	case want.StorageTexture.Access != wgpu.StorageTextureAccessUndefined:
		st := got.StorageTexture
		if st.Access == wgpu.StorageTextureAccessUndefined {
			return errors.New("expected a storage texture")
		}
		if st.Access != want.StorageTexture.Access || st.Format != want.StorageTexture.Format || st.ViewDimension != want.StorageTexture.ViewDimension {
			return fmt.Errorf("storage texture is %v %v %v, expected %v %v %v",
				st.Format, st.Access, st.ViewDimension,
				want.StorageTexture.Format, want.StorageTexture.Access, want.StorageTexture.ViewDimension)
		}
	case want.Texture.SampleType != wgpu.TextureSampleTypeUndefined:
		t := got.Texture
		if t.SampleType == wgpu.TextureSampleTypeUndefined {
			return errors.New("expected a sampled texture")
		}
		if !sampleTypesCompatible(want.Texture.SampleType, t.SampleType) || t.ViewDimension != want.Texture.ViewDimension {
			return fmt.Errorf("texture is %v %v, expected %v %v",
				t.SampleType, t.ViewDimension, want.Texture.SampleType, want.Texture.ViewDimension)
		}
	case want.Buffer.Type != wgpu.BufferBindingTypeUndefined:
		b := got.Buffer
		if b.Type != want.Buffer.Type {
			return fmt.Errorf("buffer binding is %v, expected %v", b.Type, want.Buffer.Type)
		}
		if b.MinBindingSize > 0 && want.Buffer.MinBindingSize > 0 && b.MinBindingSize > want.Buffer.MinBindingSize {
			return fmt.Errorf("shader reads %d bytes, host provides %d", b.MinBindingSize, want.Buffer.MinBindingSize)
		}
	}
	return nil
}

// sampleTypesCompatible treats float and unfilterable-float as interchangeable, since
// the difference only matters to samplers.
func sampleTypesCompatible(want, got wgpu.TextureSampleType) bool {
	isFloat := func(t wgpu.TextureSampleType) bool {
		return t == wgpu.TextureSampleTypeFloat || t == wgpu.TextureSampleTypeUnfilterableFloat
	}
	return want == got || (isFloat(want) && isFloat(got))
}
