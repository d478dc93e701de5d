package merkle

import (
	"runtime"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// SparseTree materializes every non-empty node of the tree in a
// StorageEngine, so it can hand out sibling paths for any leaf. It is what
// off-line proof builders replay the registry's events into; the registry
// itself only keeps a TreeState. Both use the same hash ordering, so their
// roots agree.
type SparseTree struct {
	cfg   Config
	zeros ZeroValues
	eng   StorageEngine

	// BuildChunk is the number of parent nodes one goroutine hashes during
	// Build.
	BuildChunk int
}

func NewSparseTree(c Config, e StorageEngine) (*SparseTree, error) {
	if _, err := NewConfig(c.Hasher, c.Depth); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewInvalidConfigError("a storage engine is required")
	}
	return &SparseTree{cfg: c, zeros: NewZeroValues(c.Hasher, c.Depth), eng: e, BuildChunk: 4096}, nil
}

func (s *SparseTree) Config() Config {
	return s.cfg
}

func (s *SparseTree) Eng() StorageEngine {
	return s.eng
}

func (s *SparseTree) checkIndex(index uint64) error {
	if index >= s.cfg.Capacity() {
		return NewInvalidIndexError(index, s.cfg.Capacity())
	}
	return nil
}

func (s *SparseTree) orZero(h *uint256.Int, level int) *uint256.Int {
	if h == nil {
		return new(uint256.Int).Set(&s.zeros[level])
	}
	return h
}

func (s *SparseTree) pathPositions(index uint64) []Position {
	positions := make([]Position, s.cfg.Depth)
	for i := 0; i < s.cfg.Depth; i++ {
		positions[i] = Position{Level: uint8(i), Index: (index >> uint(i)) ^ 1}
	}
	return positions
}

// Set writes leaf at index and rehashes the path to the root.
func (s *SparseTree) Set(ctx logger.ContextInterface, index uint64, leaf *uint256.Int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	sibs, err := s.eng.LookupNodes(ctx, s.pathPositions(index))
	if err != nil {
		return errors.Wrap(err, "cannot look up sibling path")
	}

	tostore := make([]PositionHashPair, 0, s.cfg.Depth+1)
	node := new(uint256.Int)
	if leaf != nil {
		node.Set(leaf)
	}
	tostore = append(tostore, PositionHashPair{Position: Position{Level: 0, Index: index}, Hash: *node})
	for i := 0; i < s.cfg.Depth; i++ {
		node = hashStep(s.cfg.Hasher, node, s.orZero(sibs[i], i), index, i)
		tostore = append(tostore, PositionHashPair{
			Position: Position{Level: uint8(i + 1), Index: index >> uint(i+1)},
			Hash:     *node,
		})
	}
	return s.eng.StoreNodes(ctx, tostore)
}

// Leaf returns the value at index, 0 if it was never set.
func (s *SparseTree) Leaf(ctx logger.ContextInterface, index uint64) (*uint256.Int, error) {
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	hs, err := s.eng.LookupNodes(ctx, []Position{{Level: 0, Index: index}})
	if err != nil {
		return nil, errors.Wrap(err, "cannot look up leaf")
	}
	return s.orZero(hs[0], 0), nil
}

func (s *SparseTree) Root(ctx logger.ContextInterface) (*uint256.Int, error) {
	hs, err := s.eng.LookupNodes(ctx, []Position{{Level: uint8(s.cfg.Depth), Index: 0}})
	if err != nil {
		return nil, errors.Wrap(err, "cannot look up root")
	}
	return s.orZero(hs[0], s.cfg.Depth), nil
}

// Proof returns the leaf at index, its sibling path and the current root,
// read in a single lookup.
func (s *SparseTree) Proof(ctx logger.ContextInterface, index uint64) (MerkleInclusionProof, error) {
	if err := s.checkIndex(index); err != nil {
		return MerkleInclusionProof{}, err
	}
	positions := s.pathPositions(index)
	positions = append(positions,
		Position{Level: 0, Index: index},
		Position{Level: uint8(s.cfg.Depth), Index: 0})
	hs, err := s.eng.LookupNodes(ctx, positions)
	if err != nil {
		return MerkleInclusionProof{}, errors.Wrap(err, "cannot look up proof nodes")
	}

	sibs := make([]*uint256.Int, s.cfg.Depth)
	for i := range sibs {
		sibs[i] = s.orZero(hs[i], i)
	}
	return MerkleInclusionProof{
		Root:     s.orZero(hs[s.cfg.Depth+1], s.cfg.Depth),
		Leaf:     s.orZero(hs[s.cfg.Depth], 0),
		Index:    index,
		Siblings: sibs,
	}, nil
}

// Build writes leaves at indices [0, len(leaves)) of an empty tree, hashing
// each level in parallel chunks. Nil leaves are empty slots.
func (s *SparseTree) Build(ctx logger.ContextInterface, leaves []*uint256.Int) error {
	if uint64(len(leaves)) > s.cfg.Capacity() {
		return NewTreeFullError(s.cfg.Capacity())
	}
	if len(leaves) == 0 {
		return nil
	}

	level := make([]uint256.Int, len(leaves))
	for i, l := range leaves {
		if l != nil {
			level[i].Set(l)
		}
	}
	if err := s.storeLevel(ctx, 0, level); err != nil {
		return err
	}

	chunk := s.BuildChunk
	if chunk < 1 {
		chunk = 1
	}
	for i := 0; i < s.cfg.Depth; i++ {
		parents := make([]uint256.Int, (len(level)+1)/2)
		eg, _ := errgroup.WithContext(ctx.Ctx())
		eg.SetLimit(runtime.GOMAXPROCS(0))
		for lo := 0; lo < len(parents); lo += chunk {
			lo, hi := lo, lo+chunk
			if hi > len(parents) {
				hi = len(parents)
			}
			i := i
			eg.Go(func() error {
				for p := lo; p < hi; p++ {
					right := &s.zeros[i]
					if 2*p+1 < len(level) {
						right = &level[2*p+1]
					}
					parents[p] = *s.cfg.Hasher.Hash(&level[2*p], right)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		if err := ctx.Ctx().Err(); err != nil {
			return errors.Wrap(err, "build cancelled")
		}
		if err := s.storeLevel(ctx, i+1, parents); err != nil {
			return err
		}
		level = parents
	}
	ctx.Debug("built sparse tree with %d leaves", len(leaves))
	return nil
}

func (s *SparseTree) storeLevel(ctx logger.ContextInterface, level int, nodes []uint256.Int) error {
	const batch = 10000
	for lo := 0; lo < len(nodes); lo += batch {
		hi := lo + batch
		if hi > len(nodes) {
			hi = len(nodes)
		}
		phps := make([]PositionHashPair, 0, hi-lo)
		for j := lo; j < hi; j++ {
			phps = append(phps, PositionHashPair{
				Position: Position{Level: uint8(level), Index: uint64(j)},
				Hash:     nodes[j],
			})
		}
		if err := s.eng.StoreNodes(ctx, phps); err != nil {
			return errors.Wrapf(err, "cannot store level %d", level)
		}
	}
	return nil
}
