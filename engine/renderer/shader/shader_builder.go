package shader

// shaderBuilder collects NewShader options.
type shaderBuilder struct {
	pp        PreProcessor
	validator func(source string) error
}

// ShaderBuilderOption configures NewShader.
type ShaderBuilderOption func(*shaderBuilder)

func newShaderBuilder() *shaderBuilder {
	return &shaderBuilder{
		pp:        NewPreProcessor(),
		validator: ValidateWGSL,
	}
}

// WithValidator replaces the WGSL validator run after pre-processing. A nil validator
// disables validation.
//
// Parameters:
//   - validator: returns a diagnostic error for invalid WGSL
//
// Returns:
//   - ShaderBuilderOption: a function that applies the validator
func WithValidator(validator func(source string) error) ShaderBuilderOption {
	return func(b *shaderBuilder) {
		b.validator = validator
	}
}

// WithConstant binds a value to an //@oxy:const key.
//
// Parameters:
//   - key: the constant key referenced by the shader
//   - value: the value to emit
//
// Returns:
//   - ShaderBuilderOption: a function that binds the constant
func WithConstant(key string, value uint32) ShaderBuilderOption {
	return func(b *shaderBuilder) {
		b.pp.SetConstant(key, value)
	}
}

// WithStruct registers an additional struct for include and group annotations.
func WithStruct(key AnnotationArg, def StructDefinition) ShaderBuilderOption {
	return func(b *shaderBuilder) {
		b.pp.RegisterStruct(key, def)
	}
}
