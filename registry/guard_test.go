package registry

import (
	"sort"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"

	"github.com/stretchr/testify/require"
)

func TestGuardAuthorizesMutators(t *testing.T) {
	ctx := logger.NewTestContext(t)
	s, _, _ := newStateForTest(t, 8)
	g := NewGuard(s, nil)

	_, err := g.AddOne(ctx, "mallory", uint256.NewInt(1))
	require.IsType(t, UnauthorizedError{}, err)
	require.Equal(t, OpAddOne, err.(UnauthorizedError).Op)
	_, err = g.AddBatch(ctx, "mallory", commitments(1))
	require.IsType(t, UnauthorizedError{}, err)
	err = g.SetRootValidityWindow(ctx, "mallory", 1)
	require.IsType(t, UnauthorizedError{}, err)
	require.Equal(t, uint64(1), g.TotalAccounts())

	leaves := commitments(1, 2)
	idx, err := g.AddBatch(ctx, "owner", leaves)
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	sibs := siblings(s, leaves, 1)
	err = g.Update(ctx, "mallory", 1, leaves[0], uint256.NewInt(3), sibs)
	require.IsType(t, UnauthorizedError{}, err)
	err = g.Remove(ctx, "mallory", 1, leaves[0], sibs)
	require.IsType(t, UnauthorizedError{}, err)
	require.NoError(t, g.Remove(ctx, "owner", 1, leaves[0], sibs))

	// reads are open to everyone
	require.True(t, g.IsValidRoot(g.Root()))
	require.Equal(t, uint64(2), g.NumberOfLeaves())
	require.Equal(t, 8, g.Depth())
}

func TestOwnerAuthorizerWithoutOwnerRefusesAll(t *testing.T) {
	a := OwnerAuthorizer{}
	require.Error(t, a.Authorize("", OpAddOne))
	require.Error(t, a.Authorize("anyone", OpRemove))
	require.NoError(t, OwnerAuthorizer{Owner: "o"}.Authorize("o", OpUpdate))
}

func TestGuardSerializesConcurrentCallers(t *testing.T) {
	ctx := logger.NewTestContext(t)
	s, _, j := newStateForTest(t, 10)
	g := NewGuard(s, OwnerAuthorizer{Owner: "owner"})

	const n = 64
	var wg sync.WaitGroup
	indices := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := g.AddOne(ctx, "owner", uint256.NewInt(uint64(i+1)))
			require.NoError(t, err)
			indices[i] = idx
			g.IsValidRoot(g.Root())
		}(i)
	}
	wg.Wait()

	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	for i, idx := range indices {
		require.Equal(t, uint64(i+1), idx)
	}
	require.Equal(t, uint64(n+1), g.TotalAccounts())
	require.Len(t, j.Events(), 2*n)
}
