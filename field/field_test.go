package field

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestModulusBoundary(t *testing.T) {
	require.True(t, IsValid(uint256.NewInt(0)))
	below := new(uint256.Int).SubUint64(Modulus, 1)
	require.True(t, IsValid(below))
	require.False(t, IsValid(Modulus))
	require.False(t, IsValid(new(uint256.Int).AddUint64(Modulus, 1)))
	require.False(t, IsValid(nil))

	err := Check("sibling", Modulus)
	require.Error(t, err)
	require.IsType(t, ValueOutOfFieldError{}, err)
	require.NoError(t, Check("sibling", below))

	err = CheckAll("siblings", []*uint256.Int{uint256.NewInt(1), Modulus})
	require.Error(t, err)
	require.Contains(t, err.Error(), "siblings[1]")
}

func TestParse(t *testing.T) {
	x, err := Parse("1234567890")
	require.NoError(t, err)
	require.Equal(t, uint64(1234567890), x.Uint64())

	y, err := Parse(Hex(x))
	require.NoError(t, err)
	require.True(t, x.Eq(y))

	z, err := Parse("0x0f")
	require.NoError(t, err)
	require.Equal(t, uint64(15), z.Uint64())

	_, err = Parse("0xzz")
	require.Error(t, err)
	_, err = Parse("not a number")
	require.Error(t, err)
}

func TestHashersStayInField(t *testing.T) {
	for _, name := range []string{Poseidon2Name, KeccakName} {
		h, err := NewHasher(name)
		require.NoError(t, err)
		require.Equal(t, name, h.Name())

		a := uint256.NewInt(1)
		b := uint256.NewInt(2)
		ab := h.Hash(a, b)
		require.True(t, IsValid(ab))
		require.True(t, ab.Eq(h.Hash(a, b)), "%s is not deterministic", name)
		require.False(t, ab.Eq(h.Hash(b, a)), "%s ignores argument order", name)

		top := new(uint256.Int).SubUint64(Modulus, 1)
		require.True(t, IsValid(h.Hash(top, top)))
		require.False(t, h.Hash(Zero, Zero).IsZero())
	}

	_, err := NewHasher("sha1")
	require.Error(t, err)
}

func TestPoseidon2IsShared(t *testing.T) {
	require.Same(t, NewPoseidon2(), NewPoseidon2())
}

func TestPoseidon2RoundKeys(t *testing.T) {
	first := mustElement("0x09c46e9ec68e9bd4fe1faaba294cba38a71aa177534cdd1b6c7dc0dbd0abd7a7")
	require.True(t, poseidon2RoundKeys[0][0].Equal(&first))
	half := poseidon2FullRounds / 2
	for r, row := range poseidon2RoundKeys {
		if r >= half && r < half+poseidon2PartialRounds {
			require.Len(t, row, 1, "round %d", r)
		} else {
			require.Len(t, row, poseidon2Width, "round %d", r)
		}
	}
}

func TestPoseidon2PermutationKnownAnswer(t *testing.T) {
	var s [poseidon2Width]fr.Element
	s[1].SetUint64(1)
	NewPoseidon2().Permute(&s)

	want0 := mustElement("0x1d01e56f49579cec72319e145f06f6177f6c5253206e78c2689781452a31878b")
	want1 := mustElement("0x0d189ec589c41b8cffa88cfc523618a055abe8192c70f75aa72fc514560f6c61")
	require.True(t, s[0].Equal(&want0), s[0].Text(16))
	require.True(t, s[1].Equal(&want1), s[1].Text(16))
}

func TestPoseidon2CompressionKnownAnswer(t *testing.T) {
	h := NewPoseidon2()
	cases := []struct {
		left, right uint64
		want        string
	}{
		{0, 0, "0x228981b886e5effb2c05a6be7ab4a05fde6bf702a2d039e46c87057dd729ef97"},
		{1, 2, "0x0e90c132311e864e0c8bca37976f28579a2dd9436bbc11326e21ec7c00cea5b3"},
	}
	for _, c := range cases {
		got := h.Hash(uint256.NewInt(c.left), uint256.NewInt(c.right))
		require.Equal(t, c.want, Hex(got), "H(%d, %d)", c.left, c.right)
	}
}
