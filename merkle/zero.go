package merkle

import (
	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
)

// ZeroValues[i] is the root of an all-empty subtree of height i:
// ZeroValues[0] = 0 and ZeroValues[i] = H(ZeroValues[i-1], ZeroValues[i-1]).
// It has depth+1 entries; the last one is the root of the empty tree.
type ZeroValues []uint256.Int

func NewZeroValues(h field.Hasher, depth int) ZeroValues {
	z := make(ZeroValues, depth+1)
	for i := 1; i <= depth; i++ {
		z[i] = *h.Hash(&z[i-1], &z[i-1])
	}
	return z
}

// At returns a copy of the zero value of level, for level in [0, depth].
func (z ZeroValues) At(level int) (*uint256.Int, error) {
	if level < 0 || level >= len(z) {
		return nil, NewInvalidLevelError(level, len(z)-1)
	}
	return new(uint256.Int).Set(&z[level]), nil
}

func (z ZeroValues) Depth() int {
	return len(z) - 1
}
