package merkle

import (
	"crypto/rand"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/pkg/errors"
)

// RandomCommitment draws a uniform nonzero field element by rejection
// sampling 254-bit strings.
func RandomCommitment() (*uint256.Int, error) {
	var b [32]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return nil, errors.Wrap(err, "cannot read randomness")
		}
		b[0] &= 0x3f
		x := new(uint256.Int).SetBytes(b[:])
		if field.IsValid(x) && !x.IsZero() {
			return x, nil
		}
	}
}

func RandomCommitments(n int) ([]*uint256.Int, error) {
	ret := make([]*uint256.Int, n)
	for i := range ret {
		c, err := RandomCommitment()
		if err != nil {
			return nil, err
		}
		ret[i] = c
	}
	return ret, nil
}

// SiblingsFromLeaves computes the sibling path of index in a tree whose
// leaves are exactly leaves, everything after them empty. It hashes the
// whole populated prefix, so it is only meant for tests and small tools.
func SiblingsFromLeaves(cfg Config, zeros ZeroValues, leaves []*uint256.Int, index uint64) []*uint256.Int {
	level := make([]uint256.Int, len(leaves))
	for i, l := range leaves {
		if l != nil {
			level[i].Set(l)
		}
	}
	sibs := make([]*uint256.Int, cfg.Depth)
	pos := index
	for i := 0; i < cfg.Depth; i++ {
		s := new(uint256.Int).Set(&zeros[i])
		if sib := pos ^ 1; sib < uint64(len(level)) {
			s.Set(&level[sib])
		}
		sibs[i] = s

		parents := make([]uint256.Int, (len(level)+1)/2)
		for p := range parents {
			right := &zeros[i]
			if 2*p+1 < len(level) {
				right = &level[2*p+1]
			}
			parents[p] = *cfg.Hasher.Hash(&level[2*p], right)
		}
		level = parents
		pos >>= 1
	}
	return sibs
}
