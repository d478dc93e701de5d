package field

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Hasher is the two-input compression function of the tree. Both inputs
// must already be field elements; the output always is one.
type Hasher interface {
	Hash(left, right *uint256.Int) *uint256.Int
	Name() string
}

const (
	Poseidon2Name = "poseidon2"
	KeccakName    = "keccak"
)

// NewHasher resolves a hasher by name.
func NewHasher(name string) (Hasher, error) {
	switch name {
	case Poseidon2Name, "":
		return NewPoseidon2(), nil
	case KeccakName:
		return Keccak{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}

func toFr(x *uint256.Int, e *fr.Element) {
	b := x.Bytes32()
	e.SetBytes(b[:])
}

func fromFr(e *fr.Element) *uint256.Int {
	b := e.Bytes()
	return new(uint256.Int).SetBytes32(b[:])
}

const (
	poseidon2Width         = 2
	poseidon2FullRounds    = 8
	poseidon2PartialRounds = 56
)

// Poseidon2 is the BN254 Poseidon2 permutation of width two (8 full and 56
// partial rounds, x^5 S-box) used in compression mode: the first output
// lane plus the first input.
//
// The external matrix is circ(2,1) and the internal one [[2,1],[1,3]].
type Poseidon2 struct {
	pool sync.Pool
}

var _ Hasher = (*Poseidon2)(nil)

var (
	defaultPoseidon2     *Poseidon2
	defaultPoseidon2Once sync.Once
)

// NewPoseidon2 returns the process-wide instance.
func NewPoseidon2() *Poseidon2 {
	defaultPoseidon2Once.Do(func() {
		defaultPoseidon2 = &Poseidon2{}
		defaultPoseidon2.pool.New = func() interface{} {
			return new([poseidon2Width]fr.Element)
		}
	})
	return defaultPoseidon2
}

func (p *Poseidon2) Name() string { return Poseidon2Name }

func (p *Poseidon2) Hash(left, right *uint256.Int) *uint256.Int {
	state := p.pool.Get().(*[poseidon2Width]fr.Element)
	defer p.pool.Put(state)

	toFr(left, &state[0])
	toFr(right, &state[1])
	feedForward := state[0]
	permute(state)
	state[0].Add(&state[0], &feedForward)
	return fromFr(&state[0])
}

// Permute applies the raw permutation to s in place.
func (p *Poseidon2) Permute(s *[poseidon2Width]fr.Element) {
	permute(s)
}

func permute(s *[poseidon2Width]fr.Element) {
	matMulExternal(s)

	half := poseidon2FullRounds / 2
	for r := 0; r < half; r++ {
		fullRound(s, r)
	}
	for r := half; r < half+poseidon2PartialRounds; r++ {
		s[0].Add(&s[0], &poseidon2RoundKeys[r][0])
		sBox(&s[0])
		matMulInternal(s)
	}
	for r := half + poseidon2PartialRounds; r < poseidon2FullRounds+poseidon2PartialRounds; r++ {
		fullRound(s, r)
	}
}

func fullRound(s *[poseidon2Width]fr.Element, r int) {
	for i := range s {
		s[i].Add(&s[i], &poseidon2RoundKeys[r][i])
		sBox(&s[i])
	}
	matMulExternal(s)
}

// sBox raises x to the fifth power.
func sBox(x *fr.Element) {
	var t fr.Element
	t.Square(x).Square(&t)
	x.Mul(x, &t)
}

func matMulExternal(s *[poseidon2Width]fr.Element) {
	var sum fr.Element
	sum.Add(&s[0], &s[1])
	s[0].Add(&s[0], &sum)
	s[1].Add(&s[1], &sum)
}

func matMulInternal(s *[poseidon2Width]fr.Element) {
	var sum fr.Element
	sum.Add(&s[0], &s[1])
	s[0].Add(&s[0], &sum)
	s[1].Double(&s[1]).Add(&s[1], &sum)
}

// Keccak hashes the 64 byte big-endian concatenation with legacy Keccak-256
// and reduces the digest modulo P.
type Keccak struct{}

var _ Hasher = Keccak{}

func (Keccak) Name() string { return KeccakName }

func (Keccak) Hash(left, right *uint256.Int) *uint256.Int {
	h := sha3.NewLegacyKeccak256()
	l := left.Bytes32()
	r := right.Bytes32()
	h.Write(l[:])
	h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	d := new(uint256.Int).SetBytes32(out[:])
	return d.Mod(d, Modulus)
}
