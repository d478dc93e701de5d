// Package msgpack is the one encoding used for everything the registry
// persists: journal payloads and state snapshots.
package msgpack

import (
	"github.com/keybase/go-codec/codec"
	"github.com/pkg/errors"
)

func codecHandle(canonical bool) *codec.MsgpackHandle {
	var mh codec.MsgpackHandle
	mh.WriteExt = true
	mh.Canonical = canonical
	return &mh
}

// EncodeCanonical encodes src with sorted map keys, so equal values always
// produce equal bytes.
func EncodeCanonical(src interface{}) (dst []byte, err error) {
	err = codec.NewEncoderBytes(&dst, codecHandle(true)).Encode(src)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return dst, nil
}

func Decode(dst interface{}, src []byte) error {
	err := codec.NewDecoderBytes(src, codecHandle(false)).Decode(dst)
	return errors.Wrap(err, "msgpack decode")
}
