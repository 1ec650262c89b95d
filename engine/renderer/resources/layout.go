package resources

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/uniform"
	"github.com/cogentcore/webgpu/wgpu"
)

// TextureFormat is the format of every compute output texture.
const TextureFormat = wgpu.TextureFormatRGBA32Float

// Contract returns the bind group the compute shader of the given variant must declare.
//
// Binding 0 is always the write-only storage texture the dispatch renders into. The
// ping-pong variant binds the previously written texture at binding 1; the uniform
// variant binds the time uniform there instead.
//
// Parameters:
//   - v: the variant
//
// Returns:
//   - shader.Contract: the contract for group 0
func Contract(v Variant) shader.Contract {
	output := wgpu.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: wgpu.ShaderStageCompute,
		StorageTexture: wgpu.StorageTextureBindingLayout{
			Access:        wgpu.StorageTextureAccessWriteOnly,
			Format:        TextureFormat,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
	}

	if v == VariantPingPong {
		return shader.Contract{
			Label: "pingpong",
			Entries: []wgpu.BindGroupLayoutEntry{
				output,
				{
					Binding:    1,
					Visibility: wgpu.ShaderStageCompute,
					Texture: wgpu.TextureBindingLayout{
						SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
						ViewDimension: wgpu.TextureViewDimension2D,
					},
				},
			},
		}
	}

	return shader.Contract{
		Label: "uniform",
		Entries: []wgpu.BindGroupLayoutEntry{
			output,
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uniform.BlockSize,
				},
			},
		},
	}
}
