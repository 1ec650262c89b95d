package shader

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/uniform"
)

// StructDefinition pairs embedded WGSL struct source with the type name emitted in
// generated declarations.
type StructDefinition struct {
	Source string
	Type   string
}

type preProcessor struct {
	structRegistry       map[AnnotationArg]StructDefinition
	addressSpaceRegistry map[AnnotationArg]string
	constants            map[string]uint32
}

// PreProcessor rewrites @oxy: annotations in WGSL source into plain WGSL.
type PreProcessor interface {
	// Process replaces every annotation line with its generated WGSL.
	//
	// Parameters:
	//   - source: the raw WGSL source containing annotations
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if an annotation is malformed or references an unknown struct or constant
	Process(source string) (string, error)

	// RegisterStruct makes a struct available to include and group annotations.
	//
	// Parameters:
	//   - key: the annotation argument naming the struct
	//   - def: the struct source and its WGSL type name
	RegisterStruct(key AnnotationArg, def StructDefinition)

	// SetConstant binds a value to a const annotation key.
	//
	// Parameters:
	//   - key: the constant key used in //@oxy:const lines
	//   - value: the value emitted into the generated constant
	SetConstant(key string, value uint32)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor with the built-in struct registry.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]StructDefinition{
			AnnotationArgTime: {Source: uniform.GPUTimeSource, Type: "Time"},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
		constants: make(map[string]uint32),
	}
}

func (p *preProcessor) RegisterStruct(key AnnotationArg, def StructDefinition) {
	p.structRegistry[key] = def
}

func (p *preProcessor) SetConstant(key string, value uint32) {
	p.constants[key] = value
}

func (p *preProcessor) Process(source string) (string, error) {
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case AnnotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown struct type %q in @oxy:include", a.Line, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			entry, ok := p.structRegistry[a.Args[2]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown struct type %q in @oxy:group", a.Line, a.Args[2])
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;",
				*a.Group, *a.Binding, p.addressSpaceRegistry[a.Args[0]], a.Args[1], entry.Type))
		case AnnotationTypeConst:
			value, ok := p.constants[string(a.Args[1])]
			if !ok {
				return "", fmt.Errorf("line %d: no value bound for @oxy:const key %q", a.Line, a.Args[1])
			}
			out = append(out, fmt.Sprintf("const %s: u32 = %du;", a.Args[0], value))
		}
	}
	return strings.Join(out, "\n"), nil
}
