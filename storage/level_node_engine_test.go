package storage

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"

	"github.com/stretchr/testify/require"
)

func newSparseTreesForTest(t testing.TB, eng merkle.StorageEngine) (*merkle.SparseTree, *merkle.SparseTree) {
	cfg, err := merkle.NewConfig(field.Keccak{}, 6)
	require.NoError(t, err)
	lev, err := merkle.NewSparseTree(cfg, eng)
	require.NoError(t, err)
	mem, err := merkle.NewSparseTree(cfg, merkle.NewInMemoryStorageEngine())
	require.NoError(t, err)
	return lev, mem
}

func TestLevelNodeEngineMatchesInMemory(t *testing.T) {
	ctx := logger.NewTestContext(t)
	eng, err := NewLevelNodeEngine(newLevelDBForTest(t), []byte("tree"), 16)
	require.NoError(t, err)
	lev, mem := newSparseTreesForTest(t, eng)

	leaves, err := merkle.RandomCommitments(20)
	require.NoError(t, err)
	require.NoError(t, lev.Build(ctx, leaves[:12]))
	require.NoError(t, mem.Build(ctx, leaves[:12]))
	for i := 12; i < 20; i++ {
		require.NoError(t, lev.Set(ctx, uint64(i), leaves[i]))
		require.NoError(t, mem.Set(ctx, uint64(i), leaves[i]))
	}
	require.NoError(t, lev.Set(ctx, 3, uint256.NewInt(0)))
	require.NoError(t, mem.Set(ctx, 3, uint256.NewInt(0)))

	r1, err := lev.Root(ctx)
	require.NoError(t, err)
	r2, err := mem.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, r2, r1)

	for _, i := range []uint64{0, 3, 19, 40} {
		p1, err := lev.Proof(ctx, i)
		require.NoError(t, err)
		p2, err := mem.Proof(ctx, i)
		require.NoError(t, err)
		require.Equal(t, p2, p1)
		ok, err := p1.Verify(field.Keccak{})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, eng.TotalCacheHits.Load() > 0)
	require.True(t, eng.TotalEvictions.Load() > 0)
}

func TestLevelNodeEngineMissingNodes(t *testing.T) {
	ctx := logger.NewTestContext(t)
	eng, err := NewLevelNodeEngine(newLevelDBForTest(t), []byte("tree"), 0)
	require.NoError(t, err)

	pos := []merkle.Position{{Level: 0, Index: 5}, {Level: 2, Index: 1}}
	hs, err := eng.LookupNodes(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, []*uint256.Int{nil, nil}, hs)

	// a cached miss is replaced by a later store
	require.NoError(t, eng.StoreNodes(ctx, []merkle.PositionHashPair{
		{Position: pos[0], Hash: *uint256.NewInt(9)},
	}))
	hs, err = eng.LookupNodes(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(9), hs[0])
	require.Nil(t, hs[1])

	// returned hashes are copies
	hs[0].SetOne()
	hs, err = eng.LookupNodes(ctx, pos[:1])
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(9), hs[0])
}

func TestLevelNodeEngineUncachedLevels(t *testing.T) {
	ctx := logger.NewTestContext(t)
	eng, err := NewLevelNodeEngine(newLevelDBForTest(t), []byte("tree"), 16)
	require.NoError(t, err)
	eng.CacheMinLevel = 255
	lev, mem := newSparseTreesForTest(t, eng)

	leaves, err := merkle.RandomCommitments(5)
	require.NoError(t, err)
	require.NoError(t, lev.Build(ctx, leaves))
	require.NoError(t, mem.Build(ctx, leaves))
	p1, err := lev.Proof(ctx, 2)
	require.NoError(t, err)
	p2, err := mem.Proof(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, p2, p1)
	require.Equal(t, int64(0), eng.TotalCacheHits.Load())
}

func TestLevelNodeEngineResetAndCompact(t *testing.T) {
	ctx := logger.NewTestContext(t)
	db := newLevelDBForTest(t)
	a, err := NewLevelNodeEngine(db, []byte("a"), 0)
	require.NoError(t, err)
	b, err := NewLevelNodeEngine(db, []byte("b"), 0)
	require.NoError(t, err)

	phps := []merkle.PositionHashPair{
		{Position: merkle.Position{Level: 0, Index: 0}, Hash: *uint256.NewInt(1)},
		{Position: merkle.Position{Level: 1, Index: 0}, Hash: *uint256.NewInt(2)},
	}
	require.NoError(t, a.StoreNodes(ctx, phps))
	require.NoError(t, b.StoreNodes(ctx, phps[:1]))

	n, err := a.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, a.Compact())

	require.NoError(t, a.Reset(ctx))
	n, err = a.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	hs, err := a.LookupNodes(ctx, []merkle.Position{phps[0].Position})
	require.NoError(t, err)
	require.Nil(t, hs[0])

	n, err = b.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
