// Package assets embeds the default compute shaders so the binary runs without an
// asset directory.
package assets

import "embed"

// FS holds shaders/*.wgsl.
//
//go:embed shaders/*.wgsl
var FS embed.FS
