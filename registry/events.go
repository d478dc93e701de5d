package registry

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/msgpack"
	"github.com/pkg/errors"
)

type EventKind int

const (
	AccountAdded EventKind = iota + 1
	AccountUpdated
	AccountRemoved
	RootRecorded
	RootValidityWindowUpdated
)

func (k EventKind) String() string {
	switch k {
	case AccountAdded:
		return "AccountAdded"
	case AccountUpdated:
		return "AccountUpdated"
	case AccountRemoved:
		return "AccountRemoved"
	case RootRecorded:
		return "RootRecorded"
	case RootValidityWindowUpdated:
		return "RootValidityWindowUpdated"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry of the audit trail. Which fields are set depends on
// Kind:
//
//	AccountAdded               AccountIndex, Commitment
//	AccountUpdated             AccountIndex, OldCommitment, Commitment
//	AccountRemoved             AccountIndex, Commitment (the value removed)
//	RootRecorded               Root, Timestamp, Epoch
//	RootValidityWindowUpdated  OldWindow, NewWindow
type Event struct {
	Kind          EventKind
	AccountIndex  uint64
	Commitment    *uint256.Int
	OldCommitment *uint256.Int
	Root          *uint256.Int
	Timestamp     uint64
	Epoch         uint64
	OldWindow     uint64
	NewWindow     uint64
}

func (e Event) String() string {
	switch e.Kind {
	case AccountAdded, AccountRemoved:
		return fmt.Sprintf("%s(%d, %s)", e.Kind, e.AccountIndex, e.Commitment.Dec())
	case AccountUpdated:
		return fmt.Sprintf("%s(%d, %s -> %s)", e.Kind, e.AccountIndex, e.OldCommitment.Dec(), e.Commitment.Dec())
	case RootRecorded:
		return fmt.Sprintf("%s(%s, t=%d, epoch=%d)", e.Kind, e.Root.Hex(), e.Timestamp, e.Epoch)
	case RootValidityWindowUpdated:
		return fmt.Sprintf("%s(%d -> %d)", e.Kind, e.OldWindow, e.NewWindow)
	default:
		return e.Kind.String()
	}
}

// SequencedEvent is an event as stored in a journal, numbered from 1 in
// append order.
type SequencedEvent struct {
	Seq uint64
	Event
}

// Journal receives the events of every successful mutation. Append must
// store either all events or none; the registry only commits the new state
// after Append succeeded.
type Journal interface {
	Append(ctx logger.ContextInterface, events []Event) error
}

// EventReader is the read side of a journal, consumed by the indexer.
type EventReader interface {
	// ReadEvents returns up to limit events with Seq > after, in order.
	ReadEvents(ctx logger.ContextInterface, after uint64, limit int) ([]SequencedEvent, error)
}

type NullJournal struct{}

func (NullJournal) Append(ctx logger.ContextInterface, events []Event) error {
	return nil
}

// MemoryJournal keeps events in a slice. Setting Err makes every Append
// fail with it.
type MemoryJournal struct {
	sync.RWMutex
	events []SequencedEvent
	Err    error
}

var _ Journal = (*MemoryJournal)(nil)
var _ EventReader = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx logger.ContextInterface, events []Event) error {
	j.Lock()
	defer j.Unlock()
	if j.Err != nil {
		return j.Err
	}
	for _, e := range events {
		j.events = append(j.events, SequencedEvent{Seq: uint64(len(j.events)) + 1, Event: e})
	}
	return nil
}

func (j *MemoryJournal) ReadEvents(ctx logger.ContextInterface, after uint64, limit int) ([]SequencedEvent, error) {
	j.RLock()
	defer j.RUnlock()
	if after >= uint64(len(j.events)) {
		return nil, nil
	}
	rest := j.events[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	ret := make([]SequencedEvent, len(rest))
	copy(ret, rest)
	return ret, nil
}

// Events returns every event appended so far.
func (j *MemoryJournal) Events() []Event {
	j.RLock()
	defer j.RUnlock()
	ret := make([]Event, len(j.events))
	for i, se := range j.events {
		ret[i] = se.Event
	}
	return ret
}

// eventRecord is the persisted form of an Event. Field elements are stored
// as 32 big-endian bytes.
type eventRecord struct {
	Kind          EventKind `codec:"k"`
	AccountIndex  uint64    `codec:"a,omitempty"`
	Commitment    []byte    `codec:"c,omitempty"`
	OldCommitment []byte    `codec:"o,omitempty"`
	Root          []byte    `codec:"r,omitempty"`
	Timestamp     uint64    `codec:"t,omitempty"`
	Epoch         uint64    `codec:"e,omitempty"`
	OldWindow     uint64    `codec:"ow,omitempty"`
	NewWindow     uint64    `codec:"nw,omitempty"`
}

func elementBytes(x *uint256.Int) []byte {
	if x == nil {
		return nil
	}
	b := x.Bytes32()
	return b[:]
}

func elementFromBytes(b []byte) (*uint256.Int, error) {
	if b == nil {
		return nil, nil
	}
	if len(b) != 32 {
		return nil, errors.Errorf("field element encoded in %d bytes", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}

// EncodeEvent returns the canonical msgpack encoding of e.
func EncodeEvent(e Event) ([]byte, error) {
	return msgpack.EncodeCanonical(eventRecord{
		Kind:          e.Kind,
		AccountIndex:  e.AccountIndex,
		Commitment:    elementBytes(e.Commitment),
		OldCommitment: elementBytes(e.OldCommitment),
		Root:          elementBytes(e.Root),
		Timestamp:     e.Timestamp,
		Epoch:         e.Epoch,
		OldWindow:     e.OldWindow,
		NewWindow:     e.NewWindow,
	})
}

func DecodeEvent(b []byte) (Event, error) {
	var rec eventRecord
	if err := msgpack.Decode(&rec, b); err != nil {
		return Event{}, err
	}
	if rec.Kind < AccountAdded || rec.Kind > RootValidityWindowUpdated {
		return Event{}, errors.Errorf("unknown event kind %d", rec.Kind)
	}
	e := Event{
		Kind:         rec.Kind,
		AccountIndex: rec.AccountIndex,
		Timestamp:    rec.Timestamp,
		Epoch:        rec.Epoch,
		OldWindow:    rec.OldWindow,
		NewWindow:    rec.NewWindow,
	}
	var err error
	if e.Commitment, err = elementFromBytes(rec.Commitment); err != nil {
		return Event{}, err
	}
	if e.OldCommitment, err = elementFromBytes(rec.OldCommitment); err != nil {
		return Event{}, err
	}
	if e.Root, err = elementFromBytes(rec.Root); err != nil {
		return Event{}, err
	}
	return e, nil
}
