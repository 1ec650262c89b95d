package shader

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType identifies the pipeline stage a shader is written for.
type ShaderType int

const (
	// ShaderTypeCompute indicates a shader containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex is the vertex stage of a render pipeline.
	ShaderTypeVertex

	// ShaderTypeFragment is the fragment stage of a render pipeline.
	ShaderTypeFragment
)

func (t ShaderType) String() string {
	switch t {
	case ShaderTypeCompute:
		return "compute"
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypeFragment:
		return "fragment"
	default:
		return fmt.Sprintf("ShaderType(%d)", int(t))
	}
}

// Visibility returns the wgpu stage flag matching the shader type.
func (t ShaderType) Visibility() wgpu.ShaderStage {
	switch t {
	case ShaderTypeCompute:
		return wgpu.ShaderStageCompute
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageNone
	}
}

type shader struct {
	key                        string
	source                     string
	shaderType                 ShaderType
	entryPoint                 string
	workgroupSize              [3]uint32
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
}

// Shader is a pre-processed, validated and parsed WGSL program. It carries everything
// pipeline creation needs without touching the GPU.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the WGSL source after pre-processing.
	//
	// Returns:
	//   - string: the processed WGSL source
	Source() string

	// ShaderType returns the stage this shader was parsed for.
	//
	// Returns:
	//   - ShaderType: ShaderTypeCompute, ShaderTypeVertex or ShaderTypeFragment
	ShaderType() ShaderType

	// EntryPoint returns the first entry point found for the shader's stage.
	//
	// Returns:
	//   - string: the entry point name, or empty if none was declared
	EntryPoint() string

	// HasEntryPoint reports whether the source declares an entry point with the given
	// name for the shader's stage.
	//
	// Parameters:
	//   - name: the function name to look for
	//
	// Returns:
	//   - bool: true if a matching entry point exists
	HasEntryPoint(name string) bool

	// WorkgroupSize returns the workgroup size for compute shaders. Returns [0, 0, 0]
	// for render stages and [1, 1, 1] when @workgroup_size is absent.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// BindGroupLayoutDescriptor retrieves the parsed layout for one group.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, or an empty descriptor if the group is unused
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves every parsed layout keyed by group index.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindingName retrieves the variable name declared at a group and binding.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or empty if nothing is declared there
	BindingName(group, binding int) string
}

var _ Shader = &shader{}

// NewShader pre-processes, validates and parses WGSL source.
//
// Parameters:
//   - key: a unique identifier for the shader, used in labels and errors
//   - shaderType: the stage to parse entry points and layouts for
//   - source: the raw WGSL source, possibly containing @oxy: annotations
//   - options: optional ShaderBuilderOption values
//
// Returns:
//   - Shader: the parsed shader
//   - error: an error if pre-processing or validation fails
func NewShader(key string, shaderType ShaderType, source string, options ...ShaderBuilderOption) (Shader, error) {
	b := newShaderBuilder()
	for _, opt := range options {
		opt(b)
	}

	processed, err := b.pp.Process(source)
	if err != nil {
		return nil, fmt.Errorf("shader %s: failed to pre-process: %w", key, err)
	}
	if b.validator != nil {
		if err := b.validator(processed); err != nil {
			return nil, fmt.Errorf("shader %s: %w", key, err)
		}
	}

	s := &shader{
		key:        key,
		source:     processed,
		shaderType: shaderType,
		entryPoint: parseEntryPoint(processed, shaderType),
	}
	if shaderType == ShaderTypeCompute {
		s.workgroupSize = parseWorkgroupSize(processed)
	}
	s.bindGroupLayoutDescriptors, s.bindingVarNames = parseBindGroupLayouts(processed, shaderType.Visibility())
	return s, nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) HasEntryPoint(name string) bool {
	return hasEntryPoint(s.source, s.shaderType, name)
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workgroupSize
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindingName(group, binding int) string {
	return s.bindingVarNames[group][binding]
}
