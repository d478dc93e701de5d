package merkle

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
)

// ValueOutOfFieldError is returned for any leaf or sibling >= P.
type ValueOutOfFieldError = field.ValueOutOfFieldError

// InvalidCommitmentError is returned when a leaf value is not acceptable to
// the caller layer, e.g. the empty value 0.
type InvalidCommitmentError struct {
	reason string
}

func (e InvalidCommitmentError) Error() string {
	return fmt.Sprintf("invalid commitment: %s", e.reason)
}

func NewInvalidCommitmentError(reason string) InvalidCommitmentError {
	return InvalidCommitmentError{reason: reason}
}

// EmptyBatchError is returned by batch insertion of zero leaves.
type EmptyBatchError struct{}

func (e EmptyBatchError) Error() string {
	return "batch insertion needs at least one leaf"
}

func NewEmptyBatchError() EmptyBatchError {
	return EmptyBatchError{}
}

// InvalidIndexError is returned for an index that was never assigned, or
// that cannot be addressed at the given depth.
type InvalidIndexError struct {
	Index uint64
	Limit uint64
}

func (e InvalidIndexError) Error() string {
	return fmt.Sprintf("index %d is invalid (must be below %d)", e.Index, e.Limit)
}

func NewInvalidIndexError(index, limit uint64) InvalidIndexError {
	return InvalidIndexError{Index: index, Limit: limit}
}

// WrongProofLengthError is returned when a sibling path does not have one
// entry per level.
type WrongProofLengthError struct {
	Got      int
	Expected int
}

func (e WrongProofLengthError) Error() string {
	return fmt.Sprintf("sibling path has %d entries, expected %d", e.Got, e.Expected)
}

func NewWrongProofLengthError(got, expected int) WrongProofLengthError {
	return WrongProofLengthError{Got: got, Expected: expected}
}

// ProofMismatchError is returned when replaying a sibling path does not
// reproduce the expected root: the presented leaf is not what is stored, or
// the path is stale.
type ProofMismatchError struct {
	Expected *uint256.Int
	Computed *uint256.Int
}

func (e ProofMismatchError) Error() string {
	return fmt.Sprintf("proof does not match root: expected %s but computed %s",
		field.Hex(e.Expected), field.Hex(e.Computed))
}

func NewProofMismatchError(expected, computed *uint256.Int) ProofMismatchError {
	return ProofMismatchError{
		Expected: new(uint256.Int).Set(expected),
		Computed: new(uint256.Int).Set(computed),
	}
}

// TreeFullError is returned when an insertion would exceed 2^depth leaves.
type TreeFullError struct {
	Capacity uint64
}

func (e TreeFullError) Error() string {
	return fmt.Sprintf("tree is full (capacity %d leaves)", e.Capacity)
}

func NewTreeFullError(capacity uint64) TreeFullError {
	return TreeFullError{Capacity: capacity}
}

type InvalidLevelError struct {
	Level int
	Depth int
}

func (e InvalidLevelError) Error() string {
	return fmt.Sprintf("level %d is outside [0, %d]", e.Level, e.Depth)
}

func NewInvalidLevelError(level, depth int) InvalidLevelError {
	return InvalidLevelError{Level: level, Depth: depth}
}

type InvalidConfigError struct {
	reason string
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.reason)
}

func NewInvalidConfigError(reason string) InvalidConfigError {
	return InvalidConfigError{reason: reason}
}

// NodeNotFoundError is returned by storage engines for positions that were
// never written. Callers treat it as the zero value of that level.
type NodeNotFoundError struct{}

func (e NodeNotFoundError) Error() string {
	return "node not found"
}

func NewNodeNotFoundError() NodeNotFoundError {
	return NodeNotFoundError{}
}
