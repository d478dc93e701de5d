package merkle

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"

	"github.com/stretchr/testify/require"
)

func newSparseForTest(t testing.TB, tree *Tree) (*SparseTree, *InMemoryStorageEngine) {
	eng := NewInMemoryStorageEngine()
	s, err := NewSparseTree(tree.Config(), eng)
	require.NoError(t, err)
	return s, eng
}

func TestSparseTreeFollowsTree(t *testing.T) {
	ctx := logger.NewTestContext(t)
	tree := newTreeForTest(t, 5)
	st := tree.Init()
	s, _ := newSparseForTest(t, tree)

	root, err := s.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, &st.Root, root)

	leaves := fuzzLeaves(40, 9)
	for i, leaf := range leaves {
		_, err := tree.Insert(&st, leaf)
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, uint64(i), leaf))
		root, err := s.Root(ctx)
		require.NoError(t, err)
		require.Equal(t, &st.Root, root)
	}

	// an update authenticated with the sparse tree's own path
	p, err := s.Proof(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, leaves[6], p.Leaf)
	fresh := fuzzLeaves(41, 1)[0]
	require.NoError(t, tree.Update(&st, 6, p.Leaf, fresh, p.Siblings))
	require.NoError(t, s.Set(ctx, 6, fresh))
	root, err = s.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, &st.Root, root)

	leaf, err := s.Leaf(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, fresh, leaf)
	leaf, err = s.Leaf(ctx, 30)
	require.NoError(t, err)
	require.True(t, leaf.IsZero())
}

func TestSparseTreeProofs(t *testing.T) {
	ctx := logger.NewTestContext(t)
	tree := newTreeForTest(t, 4)
	st := tree.Init()
	s, _ := newSparseForTest(t, tree)

	leaves := fuzzLeaves(42, 7)
	_, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)
	require.NoError(t, s.Build(ctx, leaves))

	for i := uint64(0); i < 16; i++ {
		p, err := s.Proof(ctx, i)
		require.NoError(t, err)
		require.Equal(t, &st.Root, p.Root)
		require.Equal(t, SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, i), p.Siblings)
		ok, err := p.Verify(tree.Config().Hasher)
		require.NoError(t, err)
		require.True(t, ok, "index %d", i)
	}

	_, err = s.Proof(ctx, 16)
	require.IsType(t, InvalidIndexError{}, err)
	require.IsType(t, InvalidIndexError{}, s.Set(ctx, 16, uint256.NewInt(1)))
}

func TestSparseTreeBuildInChunks(t *testing.T) {
	ctx := logger.NewTestContext(t)
	tree := newTreeForTest(t, 7)
	st := tree.Init()
	s, eng := newSparseForTest(t, tree)
	s.BuildChunk = 3

	leaves := fuzzLeaves(43, 37)
	_, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)
	require.NoError(t, s.Build(ctx, leaves))

	root, err := s.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, &st.Root, root)
	// 37+19+10+5+3+2+1+1
	require.Equal(t, 78, eng.Len())

	big := make([]*uint256.Int, 129)
	require.IsType(t, TreeFullError{}, s.Build(ctx, big))
}

func TestSparseTreeBuildCancelled(t *testing.T) {
	tree := newTreeForTest(t, 6)
	s, _ := newSparseForTest(t, tree)
	c, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := logger.NewContext(c, logger.NewTestLogger(t))
	require.Error(t, s.Build(ctx, fuzzLeaves(44, 10)))
}

func TestNewSparseTreeNeedsEngine(t *testing.T) {
	tree := newTreeForTest(t, 2)
	_, err := NewSparseTree(tree.Config(), nil)
	require.IsType(t, InvalidConfigError{}, err)
}
