package msgpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Kind    uint8
	Index   uint64
	Payload []byte
	Tags    map[string]int
}

func TestCanonicalEncodingIsStable(t *testing.T) {
	a := record{Kind: 1, Index: 42, Payload: []byte{1, 2, 3},
		Tags: map[string]int{"b": 2, "a": 1, "c": 3}}
	b := record{Kind: 1, Index: 42, Payload: []byte{1, 2, 3},
		Tags: map[string]int{"c": 3, "a": 1, "b": 2}}

	ea, err := EncodeCanonical(a)
	require.NoError(t, err)
	eb, err := EncodeCanonical(b)
	require.NoError(t, err)
	require.Equal(t, ea, eb)

	var got record
	require.NoError(t, Decode(&got, ea))
	require.Equal(t, a, got)
}

func TestDecodeGarbage(t *testing.T) {
	var got record
	require.Error(t, Decode(&got, []byte{0xc1}))
}
