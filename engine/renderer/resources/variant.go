package resources

import (
	"fmt"
	"strings"
)

// Variant selects how the compute output is buffered.
type Variant int

const (
	// VariantPingPong alternates between two textures, each dispatch reading the
	// texture the previous one wrote.
	VariantPingPong Variant = iota

	// VariantUniform writes a single texture and binds the time uniform.
	VariantUniform
)

func (v Variant) String() string {
	switch v {
	case VariantPingPong:
		return "pingpong"
	case VariantUniform:
		return "uniform"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// TextureCount returns how many output textures the variant owns.
func (v Variant) TextureCount() int {
	if v == VariantPingPong {
		return 2
	}
	return 1
}

// ParseVariant parses a variant name as written in configuration.
//
// Parameters:
//   - s: "pingpong" or "uniform", case insensitive
//
// Returns:
//   - Variant: the parsed variant
//   - error: an error if the name is unknown
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pingpong", "ping-pong", "ping_pong":
		return VariantPingPong, nil
	case "uniform":
		return VariantUniform, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so variants decode from YAML.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
