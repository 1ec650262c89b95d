package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructToBytesSharesMemory(t *testing.T) {
	v := struct {
		A uint32
		B uint32
	}{A: 1, B: 2}

	b := StructToBytes(&v)
	assert.Len(t, b, 8)

	v.B = 7
	assert.Equal(t, byte(7), b[4])
}
