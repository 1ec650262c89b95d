package shader

import (
	"fmt"

	"github.com/gogpu/naga"
)

// ValidateWGSL runs the source through the naga front end and back end. The generated
// SPIR-V is discarded; only the diagnostic matters.
//
// Parameters:
//   - source: processed WGSL source
//
// Returns:
//   - error: the naga diagnostic, or nil if the source compiles
func ValidateWGSL(source string) error {
	if _, err := naga.Compile(source); err != nil {
		return fmt.Errorf("invalid WGSL: %w", err)
	}
	return nil
}
