// Package field holds the prime field every leaf, sibling and root of the
// registry tree lives in, and the two-to-one hashes defined over it.
package field

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Modulus is the order of the BN254 scalar field. Every value stored in or
// presented to the tree must be strictly less than it.
var Modulus = uint256.MustFromDecimal(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617")

// Zero is the canonical empty leaf.
var Zero = uint256.NewInt(0)

// ValueOutOfFieldError is returned when a value is not a canonical field
// element.
type ValueOutOfFieldError struct {
	Value *uint256.Int
	What  string
}

func (e ValueOutOfFieldError) Error() string {
	return fmt.Sprintf("%s %s is not less than the field modulus", e.What, e.Value.Dec())
}

func NewValueOutOfFieldError(what string, v *uint256.Int) ValueOutOfFieldError {
	return ValueOutOfFieldError{Value: new(uint256.Int).Set(v), What: what}
}

// IsValid reports whether x is a canonical field element.
func IsValid(x *uint256.Int) bool {
	return x != nil && x.Lt(Modulus)
}

// Check returns a ValueOutOfFieldError naming what when x >= P. A nil x is
// treated as zero.
func Check(what string, x *uint256.Int) error {
	if x == nil {
		return nil
	}
	if !x.Lt(Modulus) {
		return NewValueOutOfFieldError(what, x)
	}
	return nil
}

// CheckAll runs Check on every element, naming the offending position.
func CheckAll(what string, xs []*uint256.Int) error {
	for i, x := range xs {
		if err := Check(fmt.Sprintf("%s[%d]", what, i), x); err != nil {
			return err
		}
	}
	return nil
}

// FromDecimal parses a base-10 string. It does not reduce modulo P.
func FromDecimal(s string) (*uint256.Int, error) {
	x, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q as decimal", s)
	}
	return x, nil
}

// FromHex parses a hex string with an optional 0x prefix and any number of
// leading zeros. It does not reduce modulo P.
func FromHex(s string) (*uint256.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q as hex", s)
	}
	if len(b) == 0 || len(b) > 64 {
		return nil, errors.Errorf("cannot parse %q as hex: bad length", s)
	}
	b = bytes.TrimLeft(b, "\x00")
	if len(b) > 32 {
		return nil, errors.Errorf("hex value %q overflows 256 bits", s)
	}
	return new(uint256.Int).SetBytes(b), nil
}

// Parse accepts either a 0x-prefixed hex string or a decimal string.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return FromHex(s)
	}
	return FromDecimal(s)
}

func MustFromDecimal(s string) *uint256.Int {
	x, err := FromDecimal(s)
	if err != nil {
		panic(err.Error())
	}
	return x
}

// Hex formats x as a 0x-prefixed, 64 digit hex string.
func Hex(x *uint256.Int) string {
	b := x.Bytes32()
	return fmt.Sprintf("0x%x", b[:])
}

// Copy returns a fresh copy of every element.
func Copy(xs []*uint256.Int) []*uint256.Int {
	ret := make([]*uint256.Int, len(xs))
	for i, x := range xs {
		if x == nil {
			ret[i] = new(uint256.Int)
			continue
		}
		ret[i] = new(uint256.Int).Set(x)
	}
	return ret
}
