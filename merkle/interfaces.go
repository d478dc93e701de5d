package merkle

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"
)

// Position addresses a node: Level 0 holds the leaves, level Depth the root.
type Position struct {
	Level uint8
	Index uint64
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.Level, p.Index)
}

// Sibling is the other child of p's parent.
func (p Position) Sibling() Position {
	return Position{Level: p.Level, Index: p.Index ^ 1}
}

func (p Position) Parent() Position {
	return Position{Level: p.Level + 1, Index: p.Index >> 1}
}

type PositionHashPair struct {
	Position Position
	Hash     uint256.Int
}

// StorageEngine specifies how to store and look up the nodes of a
// SparseTree. Only the latest version of each node is kept.
type StorageEngine interface {
	// StoreNodes writes every pair, overwriting earlier hashes at the same
	// positions. Implementations apply a call atomically.
	StoreNodes(ctx logger.ContextInterface, phps []PositionHashPair) error

	// LookupNodes returns one entry per position, in order. Positions that
	// were never stored come back as nil; the caller substitutes the zero
	// value of that level.
	LookupNodes(ctx logger.ContextInterface, positions []Position) ([]*uint256.Int, error)
}
