package merkle

import (
	"fmt"

	"github.com/mvkdcrypto/rpregistry/field"
)

// MaxDepth bounds the depth so that leaf indices and the capacity 2^depth
// both fit in a uint64.
const MaxDepth = 63

// DefaultDepth is the depth of the deployed registry tree.
const DefaultDepth = 30

// Config defines the shape of the tree: its compression hash and its fixed
// depth.
type Config struct {
	Hasher field.Hasher

	// Depth is the number of levels between a leaf and the root. The tree
	// holds at most 2^Depth leaves.
	Depth int
}

// NewConfig makes a new config object. depth must be in [1, MaxDepth].
func NewConfig(h field.Hasher, depth int) (Config, error) {
	if h == nil {
		return Config{}, NewInvalidConfigError("a hasher is required")
	}
	if depth < 1 || depth > MaxDepth {
		return Config{}, NewInvalidConfigError(fmt.Sprintf("depth %d is outside [1, %d]", depth, MaxDepth))
	}
	return Config{Hasher: h, Depth: depth}, nil
}

// Capacity is 2^Depth.
func (c Config) Capacity() uint64 {
	return uint64(1) << uint(c.Depth)
}
