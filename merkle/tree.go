package merkle

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
)

// TreeState is everything the incremental tree keeps: the number of leaves
// ever inserted, the current root, and the rightmost-path cache. It does not
// hold the leaves themselves; update and removal are authenticated against
// Root with a caller-supplied sibling path.
type TreeState struct {
	NextIndex uint64
	Root      uint256.Int

	// Filled[i] is the last node written at an even position of level i.
	// Whenever bit i of NextIndex is set, it is the left sibling the next
	// insertion hashes against at that level.
	Filled []uint256.Int
}

// Clone returns a deep copy.
func (s TreeState) Clone() TreeState {
	filled := make([]uint256.Int, len(s.Filled))
	copy(filled, s.Filled)
	return TreeState{NextIndex: s.NextIndex, Root: s.Root, Filled: filled}
}

// Equal compares two states field by field.
func (s TreeState) Equal(o TreeState) bool {
	if s.NextIndex != o.NextIndex || !s.Root.Eq(&o.Root) || len(s.Filled) != len(o.Filled) {
		return false
	}
	for i := range s.Filled {
		if !s.Filled[i].Eq(&o.Filled[i]) {
			return false
		}
	}
	return true
}

// Tree holds the operations of a fixed-depth binary incremental Merkle tree.
// It is stateless apart from its configuration and zero table; every
// operation works on a *TreeState owned by the caller. Operations either
// apply fully or return an error and leave the state untouched.
type Tree struct {
	cfg   Config
	zeros ZeroValues
}

func NewTree(c Config) (*Tree, error) {
	if _, err := NewConfig(c.Hasher, c.Depth); err != nil {
		return nil, err
	}
	return &Tree{cfg: c, zeros: NewZeroValues(c.Hasher, c.Depth)}, nil
}

func (t *Tree) Config() Config {
	return t.cfg
}

func (t *Tree) Depth() int {
	return t.cfg.Depth
}

func (t *Tree) ZeroValues() ZeroValues {
	return t.zeros
}

func (t *Tree) ZeroValue(level int) (*uint256.Int, error) {
	return t.zeros.At(level)
}

// Init returns the state of an empty tree: every level at its zero value.
func (t *Tree) Init() TreeState {
	filled := make([]uint256.Int, t.cfg.Depth)
	copy(filled, t.zeros[:t.cfg.Depth])
	return TreeState{Root: t.zeros[t.cfg.Depth], Filled: filled}
}

func (t *Tree) checkState(st *TreeState) error {
	if st == nil {
		return NewInvalidConfigError("nil tree state")
	}
	if len(st.Filled) != t.cfg.Depth {
		return NewInvalidConfigError(fmt.Sprintf("tree state has %d cached levels, tree depth is %d",
			len(st.Filled), t.cfg.Depth))
	}
	if st.NextIndex > t.cfg.Capacity() {
		return NewInvalidConfigError(fmt.Sprintf("tree state holds %d leaves, capacity is %d",
			st.NextIndex, t.cfg.Capacity()))
	}
	return nil
}

// Insert places leaf at index st.NextIndex and returns that index.
func (t *Tree) Insert(st *TreeState, leaf *uint256.Int) (uint64, error) {
	if err := t.checkState(st); err != nil {
		return 0, err
	}
	if err := field.Check("leaf", leaf); err != nil {
		return 0, err
	}
	if st.NextIndex >= t.cfg.Capacity() {
		return 0, NewTreeFullError(t.cfg.Capacity())
	}

	index := st.NextIndex
	var node uint256.Int
	if leaf != nil {
		node.Set(leaf)
	}
	for i := 0; i < t.cfg.Depth; i++ {
		if (index>>uint(i))&1 == 0 {
			st.Filled[i] = node
			node = *t.cfg.Hasher.Hash(&node, &t.zeros[i])
		} else {
			node = *t.cfg.Hasher.Hash(&st.Filled[i], &node)
		}
	}
	st.Root = node
	st.NextIndex++
	return index, nil
}

// InsertMany appends leaves at contiguous indices starting at st.NextIndex
// and returns the first one. It hashes level by level, touching every new
// node once, and ends in the same state as calling Insert on each leaf in
// order.
func (t *Tree) InsertMany(st *TreeState, leaves []*uint256.Int) (uint64, error) {
	if err := t.checkState(st); err != nil {
		return 0, err
	}
	if len(leaves) == 0 {
		return 0, NewEmptyBatchError()
	}
	if err := field.CheckAll("leaves", leaves); err != nil {
		return 0, err
	}
	free := t.cfg.Capacity() - st.NextIndex
	if uint64(len(leaves)) > free {
		return 0, NewTreeFullError(t.cfg.Capacity())
	}

	start := st.NextIndex
	level := make([]uint256.Int, len(leaves))
	for i, l := range leaves {
		if l != nil {
			level[i].Set(l)
		}
	}

	// level holds the nodes at positions [first, last] of the current level
	first := start
	for i := 0; i < t.cfg.Depth; i++ {
		last := first + uint64(len(level)) - 1
		parentFirst, parentLast := first>>1, last>>1
		parents := make([]uint256.Int, parentLast-parentFirst+1)
		for p := parentFirst; p <= parentLast; p++ {
			l, r := 2*p, 2*p+1
			left := &st.Filled[i]
			if l >= first {
				left = &level[l-first]
			}
			right := &t.zeros[i]
			if r <= last {
				right = &level[r-first]
			}
			parents[p-parentFirst] = *t.cfg.Hasher.Hash(left, right)
		}
		if lastEven := last &^ 1; lastEven >= first {
			st.Filled[i] = level[lastEven-first]
		}
		level, first = parents, parentFirst
	}

	st.Root = level[0]
	st.NextIndex += uint64(len(leaves))
	return start, nil
}

// Update replaces oldLeaf at index with newLeaf. siblings must be the
// current sibling path of index; replaying it from oldLeaf has to reproduce
// st.Root, which is how the tree authenticates oldLeaf without storing it.
func (t *Tree) Update(st *TreeState, index uint64, oldLeaf, newLeaf *uint256.Int, siblings []*uint256.Int) error {
	if err := t.checkState(st); err != nil {
		return err
	}
	if index >= st.NextIndex {
		return NewInvalidIndexError(index, st.NextIndex)
	}
	if len(siblings) != t.cfg.Depth {
		return NewWrongProofLengthError(len(siblings), t.cfg.Depth)
	}
	if err := field.Check("old leaf", oldLeaf); err != nil {
		return err
	}
	if err := field.Check("new leaf", newLeaf); err != nil {
		return err
	}
	if err := field.CheckAll("siblings", siblings); err != nil {
		return err
	}

	computed := ComputeRoot(t.cfg.Hasher, oldLeaf, siblings, index)
	if !computed.Eq(&st.Root) {
		return NewProofMismatchError(&st.Root, computed)
	}

	n := st.NextIndex
	var node uint256.Int
	if newLeaf != nil {
		node.Set(newLeaf)
	}
	for i := 0; i < t.cfg.Depth; i++ {
		// the node sits where the next insertion will look for its left
		// sibling
		if next := n >> uint(i); next&1 == 1 && index>>uint(i) == next-1 {
			st.Filled[i] = node
		}
		node = *hashStep(t.cfg.Hasher, &node, siblings[i], index, i)
	}
	st.Root = node
	return nil
}

// Remove sets the leaf at index back to the empty value 0. The slot stays
// counted in NextIndex; indices are never reclaimed.
func (t *Tree) Remove(st *TreeState, index uint64, leaf *uint256.Int, siblings []*uint256.Int) error {
	return t.Update(st, index, leaf, field.Zero, siblings)
}
