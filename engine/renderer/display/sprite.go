package display

import (
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// Sprite is the CPU-visible presentation state: which output texture is on screen and
// how far it is scaled. Toggle runs on the simulation goroutine while the render
// goroutine reads Current, so the selection is atomic.
type Sprite struct {
	textures []device.Texture
	scale    uint32
	toggles  atomic.Uint64
}

// NewSprite creates a sprite showing textures[0].
//
// Parameters:
//   - textures: the textures the sprite alternates between, one or two
//   - scale: the integer display factor
//
// Returns:
//   - *Sprite: the sprite
func NewSprite(textures []device.Texture, scale uint32) *Sprite {
	return &Sprite{textures: textures, scale: scale}
}

// Toggle advances to the next texture. With a single texture it is a no-op on screen.
func (s *Sprite) Toggle() {
	s.toggles.Add(1)
}

// Index returns the position of the displayed texture.
func (s *Sprite) Index() int {
	if len(s.textures) == 0 {
		return 0
	}
	return int(s.toggles.Load() % uint64(len(s.textures)))
}

// Current returns the displayed texture, or nil for an empty sprite.
func (s *Sprite) Current() device.Texture {
	if len(s.textures) == 0 {
		return nil
	}
	return s.textures[s.Index()]
}

// Textures returns every texture the sprite can show.
func (s *Sprite) Textures() []device.Texture {
	return s.textures
}

// Scale returns the display factor.
func (s *Sprite) Scale() uint32 {
	return s.scale
}
