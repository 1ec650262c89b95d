// annotations.go defines the @oxy: comment annotations understood by the WGSL
// pre-processor. An annotation occupies a whole line of the form //@oxy:<type> <args...>
// and is replaced by generated WGSL before the shader reaches the parser or the GPU.
package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects the WGSL source of a registered struct at the annotation site.
	//
	// Syntax: //@oxy:include <struct_type>
	AnnotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a @group/@binding buffer declaration for a registered struct.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <struct_type>
	//
	// Example: //@oxy:group 0 1 storage_uniform uniforms time
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeConst generates a u32 module constant whose value is supplied by the host
	// through WithConstant. Shaders use it for values owned by configuration, such as the
	// display scale factor.
	//
	// Syntax: //@oxy:const <NAME> <key>
	AnnotationTypeConst AnnotationType = "const"
)

// Annotation is a single parsed @oxy: line.
type Annotation struct {
	Type AnnotationType

	// Args depends on Type:
	//   - include: [0] = struct type
	//   - group:   [0] = address space, [1] = var name, [2] = struct type
	//   - const:   [0] = WGSL constant name, [1] = constant key
	Args []AnnotationArg

	// Line is the 1-based source line, used for error reporting.
	Line int

	// Group and Binding are set for group annotations only.
	Group   *int
	Binding *int
}

// AnnotationArg is a typed annotation argument.
type AnnotationArg string

// AnnotationArgTime identifies the Time uniform struct carrying the tick counter.
const AnnotationArgTime AnnotationArg = "time"

const (
	annotationArgStorageTypeUniform   AnnotationArg = "storage_uniform"
	annotationArgStorageTypeRead      AnnotationArg = "storage_read"
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

// parseAnnotation parses one WGSL source line. Lines without the annotation prefix
// yield (nil, nil). Struct types are checked against the pre-processor registry later
// so hosts can register their own structs.
//
// Parameters:
//   - line: the raw WGSL source line
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	_, after, ok := strings.Cut(strings.TrimSpace(line), annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case AnnotationTypeInclude:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy:include takes exactly one struct type", lineNum)
		}
		return &Annotation{Type: AnnotationTypeInclude, Args: []AnnotationArg{AnnotationArg(args[1])}, Line: lineNum}, nil
	case AnnotationTypeBindingGroup:
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy:group takes group, binding, address space, var name and struct type", lineNum)
		}
		group, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid group number %q: %w", lineNum, args[1], err)
		}
		binding, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid binding number %q: %w", lineNum, args[2], err)
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q", lineNum, args[3])
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	case AnnotationTypeConst:
		if len(args) != 3 {
			return nil, fmt.Errorf("line %d: @oxy:const takes a constant name and a key", lineNum)
		}
		return &Annotation{Type: AnnotationTypeConst, Args: []AnnotationArg{AnnotationArg(args[1]), AnnotationArg(args[2])}, Line: lineNum}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}
