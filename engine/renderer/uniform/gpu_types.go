package uniform

import (
	_ "embed"

	"github.com/Carmen-Shannon/oxy-compute/common"
)

//go:embed assets/time.wgsl
var GPUTimeSource string

// BlockSize is the byte size of Block as laid out in WGSL.
const BlockSize = 4

// Block is the host mirror of the WGSL Time struct.
type Block struct {
	Time uint32
}

// Bytes returns a view of the block's memory for buffer uploads.
func (b *Block) Bytes() []byte {
	return common.StructToBytes(b)
}
