package merkle

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"

	"github.com/stretchr/testify/require"
)

func newTreeForTest(t testing.TB, depth int) *Tree {
	cfg, err := NewConfig(field.Keccak{}, depth)
	require.NoError(t, err)
	tree, err := NewTree(cfg)
	require.NoError(t, err)
	return tree
}

// fuzzLeaves returns n nonzero field elements determined by seed.
func fuzzLeaves(seed int64, n int) []*uint256.Int {
	f := fuzz.NewWithSeed(seed).NilChance(0)
	ret := make([]*uint256.Int, n)
	for i := range ret {
		var words [4]uint64
		f.Fuzz(&words)
		x := uint256.Int(words)
		x.Mod(&x, field.Modulus)
		if x.IsZero() {
			x.SetOne()
		}
		ret[i] = &x
	}
	return ret
}

// rootOf hashes a tree holding exactly leaves from scratch.
func rootOf(tree *Tree, leaves []*uint256.Int) *uint256.Int {
	if len(leaves) == 0 {
		z, _ := tree.ZeroValue(tree.Depth())
		return z
	}
	sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, 0)
	return ComputeRoot(tree.Config().Hasher, leaves[0], sibs, 0)
}

func TestZeroValues(t *testing.T) {
	h := field.Keccak{}
	z := NewZeroValues(h, 8)
	require.Equal(t, 8, z.Depth())

	z0, err := z.At(0)
	require.NoError(t, err)
	require.True(t, z0.IsZero())

	z1, err := z.At(1)
	require.NoError(t, err)
	require.Equal(t, h.Hash(field.Zero, field.Zero), z1)

	for k := 1; k <= 8; k++ {
		zk, err := z.At(k)
		require.NoError(t, err)
		require.False(t, zk.IsZero(), "level %d", k)
		prev, _ := z.At(k - 1)
		require.Equal(t, h.Hash(prev, prev), zk)
	}

	_, err = z.At(9)
	require.IsType(t, InvalidLevelError{}, err)
	_, err = z.At(-1)
	require.IsType(t, InvalidLevelError{}, err)

	// At hands out copies
	z1.SetOne()
	again, _ := z.At(1)
	require.NotEqual(t, z1, again)
}

func TestNewConfigBounds(t *testing.T) {
	_, err := NewConfig(field.Keccak{}, 0)
	require.IsType(t, InvalidConfigError{}, err)
	_, err = NewConfig(field.Keccak{}, MaxDepth+1)
	require.IsType(t, InvalidConfigError{}, err)
	_, err = NewConfig(nil, 4)
	require.IsType(t, InvalidConfigError{}, err)

	cfg, err := NewConfig(field.Keccak{}, MaxDepth)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, cfg.Capacity())
}

func TestInitIsEmptyRoot(t *testing.T) {
	tree := newTreeForTest(t, 6)
	st := tree.Init()
	require.Equal(t, uint64(0), st.NextIndex)
	require.Equal(t, tree.ZeroValues()[6], st.Root)
	require.Len(t, st.Filled, 6)
}

func TestInsertMatchesRecomputation(t *testing.T) {
	tree := newTreeForTest(t, 4)
	st := tree.Init()
	leaves := fuzzLeaves(1, 16)

	for i, leaf := range leaves {
		idx, err := tree.Insert(&st, leaf)
		require.NoError(t, err)
		require.Equal(t, uint64(i), idx)
		require.Equal(t, uint64(i+1), st.NextIndex)
		require.Equal(t, rootOf(tree, leaves[:i+1]), &st.Root, "after %d inserts", i+1)

		// every leaf so far is provable against the new root
		for j := 0; j <= i; j++ {
			sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves[:i+1], uint64(j))
			ok, err := VerifyProof(tree.Config().Hasher, &st.Root, leaves[j], sibs, uint64(j), 4)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	_, err := tree.Insert(&st, leaves[0])
	require.IsType(t, TreeFullError{}, err)
	require.Equal(t, uint64(16), st.NextIndex)
}

func TestInsertManyMatchesSingleInserts(t *testing.T) {
	tree := newTreeForTest(t, 5)

	for seed := int64(0); seed < 12; seed++ {
		leaves := fuzzLeaves(seed, 32)
		f := fuzz.NewWithSeed(seed + 100)
		var a, b uint8
		f.Fuzz(&a)
		f.Fuzz(&b)
		pre := int(a) % 20
		n := 1 + int(b)%(32-pre)

		single := tree.Init()
		batch := tree.Init()
		for _, leaf := range leaves[:pre] {
			_, err := tree.Insert(&single, leaf)
			require.NoError(t, err)
			_, err = tree.Insert(&batch, leaf)
			require.NoError(t, err)
		}

		for _, leaf := range leaves[pre : pre+n] {
			_, err := tree.Insert(&single, leaf)
			require.NoError(t, err)
		}
		first, err := tree.InsertMany(&batch, leaves[pre:pre+n])
		require.NoError(t, err)
		require.Equal(t, uint64(pre), first)
		require.True(t, single.Equal(batch), "pre=%d n=%d", pre, n)

		// the rightmost-path caches agree, so later inserts do too
		if pre+n < 32 {
			_, err = tree.Insert(&single, leaves[pre+n])
			require.NoError(t, err)
			_, err = tree.InsertMany(&batch, leaves[pre+n:pre+n+1])
			require.NoError(t, err)
			require.Equal(t, single.Root, batch.Root)
			require.Equal(t, rootOf(tree, leaves[:pre+n+1]), &batch.Root)
		}
	}
}

func TestInsertManyRejectsWithoutMutation(t *testing.T) {
	tree := newTreeForTest(t, 3)
	st := tree.Init()
	_, err := tree.InsertMany(&st, fuzzLeaves(7, 5))
	require.NoError(t, err)
	before := st.Clone()

	_, err = tree.InsertMany(&st, nil)
	require.IsType(t, EmptyBatchError{}, err)
	require.True(t, before.Equal(st))

	bad := fuzzLeaves(8, 2)
	bad = append(bad[:1], new(uint256.Int).Set(field.Modulus), bad[1])
	_, err = tree.InsertMany(&st, bad)
	require.IsType(t, ValueOutOfFieldError{}, err)
	require.True(t, before.Equal(st))

	_, err = tree.InsertMany(&st, fuzzLeaves(9, 4))
	require.IsType(t, TreeFullError{}, err)
	require.True(t, before.Equal(st))

	_, err = tree.Insert(&st, field.Modulus)
	require.IsType(t, ValueOutOfFieldError{}, err)
	require.True(t, before.Equal(st))

	_, err = tree.InsertMany(&st, fuzzLeaves(9, 3))
	require.NoError(t, err)
	require.Equal(t, uint64(8), st.NextIndex)
}

func TestInsertRejectsBadState(t *testing.T) {
	tree := newTreeForTest(t, 3)
	st := tree.Init()
	st.Filled = st.Filled[:2]
	_, err := tree.Insert(&st, field.Zero)
	require.IsType(t, InvalidConfigError{}, err)
	_, err = tree.Insert(nil, field.Zero)
	require.IsType(t, InvalidConfigError{}, err)
}

func TestUpdateRoundTrip(t *testing.T) {
	tree := newTreeForTest(t, 4)
	st := tree.Init()
	leaves := fuzzLeaves(3, 5)
	_, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)

	fresh := fuzzLeaves(4, 1)[0]
	sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, 2)
	require.NoError(t, tree.Update(&st, 2, leaves[2], fresh, sibs))
	leaves[2] = fresh
	require.Equal(t, rootOf(tree, leaves), &st.Root)
	require.Equal(t, uint64(5), st.NextIndex)

	// the old leaf is no longer provable, and neither is the stale path
	// with a different leaf
	other := fuzzLeaves(5, 1)[0]
	err = tree.Update(&st, 2, other, other, sibs)
	require.IsType(t, ProofMismatchError{}, err)
	mismatch := err.(ProofMismatchError)
	require.Equal(t, &st.Root, mismatch.Expected)
}

func TestUpdateKeepsRightmostPath(t *testing.T) {
	for _, index := range []uint64{0, 3, 4, 5} {
		tree := newTreeForTest(t, 4)
		st := tree.Init()
		leaves := fuzzLeaves(10, 6)
		_, err := tree.InsertMany(&st, leaves)
		require.NoError(t, err)

		fresh := fuzzLeaves(11+int64(index), 1)[0]
		sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, index)
		require.NoError(t, tree.Update(&st, index, leaves[index], fresh, sibs))
		leaves[index] = fresh

		more := fuzzLeaves(20, 3)
		for _, leaf := range more {
			_, err := tree.Insert(&st, leaf)
			require.NoError(t, err)
			leaves = append(leaves, leaf)
			require.Equal(t, rootOf(tree, leaves), &st.Root, "updated %d", index)
		}
	}
}

func TestUpdateRejectsWithoutMutation(t *testing.T) {
	tree := newTreeForTest(t, 4)
	st := tree.Init()
	leaves := fuzzLeaves(12, 3)
	_, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)
	before := st.Clone()
	sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, 1)

	err = tree.Update(&st, 3, field.Zero, leaves[0], sibs)
	require.IsType(t, InvalidIndexError{}, err)

	err = tree.Update(&st, 1, leaves[1], leaves[0], sibs[:3])
	require.IsType(t, WrongProofLengthError{}, err)

	err = tree.Update(&st, 1, leaves[1], field.Modulus, sibs)
	require.IsType(t, ValueOutOfFieldError{}, err)

	bad := field.Copy(sibs)
	bad[2] = new(uint256.Int).Set(field.Modulus)
	err = tree.Update(&st, 1, leaves[1], leaves[0], bad)
	require.IsType(t, ValueOutOfFieldError{}, err)

	err = tree.Update(&st, 1, leaves[0], leaves[1], sibs)
	require.IsType(t, ProofMismatchError{}, err)

	require.True(t, before.Equal(st))
}

func TestRemove(t *testing.T) {
	tree := newTreeForTest(t, 3)
	st := tree.Init()
	leaves := fuzzLeaves(13, 4)
	_, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)

	sibs := SiblingsFromLeaves(tree.Config(), tree.ZeroValues(), leaves, 1)
	require.NoError(t, tree.Remove(&st, 1, leaves[1], sibs))
	leaves[1] = new(uint256.Int)
	require.Equal(t, rootOf(tree, leaves), &st.Root)
	require.Equal(t, uint64(4), st.NextIndex)

	// a removed slot is zero and still provable as such
	ok, err := VerifyProof(tree.Config().Hasher, &st.Root, field.Zero, sibs, 1, 3)
	require.NoError(t, err)
	require.True(t, ok)

	idx, err := tree.Insert(&st, leaves[0])
	require.NoError(t, err)
	require.Equal(t, uint64(4), idx)
}

func TestPoseidon2TreeMatchesRecomputation(t *testing.T) {
	cfg, err := NewConfig(field.NewPoseidon2(), DefaultDepth)
	require.NoError(t, err)
	tree, err := NewTree(cfg)
	require.NoError(t, err)
	st := tree.Init()

	leaves := []*uint256.Int{
		uint256.NewInt(1234567890),
		uint256.NewInt(9876543210),
		uint256.NewInt(1111111111),
	}
	first, err := tree.InsertMany(&st, leaves)
	require.NoError(t, err)
	require.Equal(t, uint64(0), first)
	require.Equal(t, rootOf(tree, leaves), &st.Root)
	require.True(t, field.IsValid(&st.Root))
}

func TestPoseidon2KnownRoots(t *testing.T) {
	h := field.NewPoseidon2()
	z := NewZeroValues(h, DefaultDepth)
	z1, err := z.At(1)
	require.NoError(t, err)
	require.Equal(t, "0x228981b886e5effb2c05a6be7ab4a05fde6bf702a2d039e46c87057dd729ef97", field.Hex(z1))
	z30, err := z.At(DefaultDepth)
	require.NoError(t, err)
	require.Equal(t, "0x228ffdf6570d757e6ebc79516241b636bdceed0996036242d00fdd61050975a2", field.Hex(z30))

	leaves := []*uint256.Int{
		uint256.NewInt(1234567890),
		uint256.NewInt(9876543210),
		uint256.NewInt(1111111111),
	}
	for _, c := range []struct {
		depth int
		root  string
	}{
		{3, "0x265ca57aab35561b5193b4d010ba411a0bb9a53106507f016af1e331e5bac076"},
		{DefaultDepth, "0x2d9b03d7e7fe4fec44ee19c591237a9c81b11654a9ff43076281bc332f3c18a4"},
	} {
		cfg, err := NewConfig(h, c.depth)
		require.NoError(t, err)
		tree, err := NewTree(cfg)
		require.NoError(t, err)
		st := tree.Init()
		empty, err := z.At(c.depth)
		require.NoError(t, err)
		require.Equal(t, empty, &st.Root)
		_, err = tree.InsertMany(&st, leaves)
		require.NoError(t, err)
		require.Equal(t, c.root, field.Hex(&st.Root), "depth %d", c.depth)
	}
}
