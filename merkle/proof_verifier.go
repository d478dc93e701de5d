package merkle

import (
	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
)

// hashStep combines the running hash at level with its sibling. Bit level
// of index says which side the running hash is on: 0 is left, 1 is right.
// This is the only ordering rule in the tree; insertion, update and
// verification all go through it.
func hashStep(h field.Hasher, running, sibling *uint256.Int, index uint64, level int) *uint256.Int {
	if sibling == nil {
		sibling = field.Zero
	}
	if (index>>uint(level))&1 == 0 {
		return h.Hash(running, sibling)
	}
	return h.Hash(sibling, running)
}

// ComputeRoot replays the path from leaf at index through siblings and
// returns the resulting root. It does no validation.
func ComputeRoot(h field.Hasher, leaf *uint256.Int, siblings []*uint256.Int, index uint64) *uint256.Int {
	node := new(uint256.Int)
	if leaf != nil {
		node.Set(leaf)
	}
	for i, sib := range siblings {
		node = hashStep(h, node, sib, index, i)
	}
	return node
}

// VerifyProof checks that leaf sits at index under root, given its sibling
// path. It touches no tree state and works against any historical root.
//
// Malformed input is an error, not a false result: a sibling count that
// differs from depth (or a depth outside [1, MaxDepth]), a leaf or sibling
// >= P, or an index that does not fit in depth bits. For well-formed input
// it reports whether the replayed root equals root.
//
// The replay only reads the low depth bits of index, so an index >= 2^depth
// would otherwise verify as its truncation. Such an index is rejected with
// InvalidIndexError instead of being truncated.
func VerifyProof(h field.Hasher, root, leaf *uint256.Int, siblings []*uint256.Int, index uint64, depth int) (bool, error) {
	if depth < 1 || depth > MaxDepth || len(siblings) != depth {
		return false, NewWrongProofLengthError(len(siblings), depth)
	}
	if err := field.Check("leaf", leaf); err != nil {
		return false, err
	}
	if err := field.CheckAll("siblings", siblings); err != nil {
		return false, err
	}
	if limit := uint64(1) << uint(depth); index >= limit {
		return false, NewInvalidIndexError(index, limit)
	}
	if root == nil {
		root = field.Zero
	}
	return ComputeRoot(h, leaf, siblings, index).Eq(root), nil
}

// MerkleInclusionProof bundles everything VerifyProof needs besides the
// hasher. Verify applies the same checks, including the rejection of an
// Index that does not fit in Depth() bits.
type MerkleInclusionProof struct {
	Root     *uint256.Int
	Leaf     *uint256.Int
	Index    uint64
	Siblings []*uint256.Int
}

func (p MerkleInclusionProof) Depth() int {
	return len(p.Siblings)
}

// Verify runs VerifyProof with the proof's own depth.
func (p MerkleInclusionProof) Verify(h field.Hasher) (bool, error) {
	return VerifyProof(h, p.Root, p.Leaf, p.Siblings, p.Index, len(p.Siblings))
}
