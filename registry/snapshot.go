package registry

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/msgpack"
	"github.com/pkg/errors"
)

// SnapshotVersion is bumped whenever the layout of Snapshot changes.
// Restore refuses any other version.
const SnapshotVersion = 1

type SnapshotRoot struct {
	Root      []byte `codec:"r"`
	Timestamp uint64 `codec:"t"`
	Epoch     uint64 `codec:"e"`
}

// Snapshot is the persisted form of a State.
type Snapshot struct {
	Version    int            `codec:"v"`
	Depth      int            `codec:"d"`
	HasherName string         `codec:"h"`
	NextIndex  uint64         `codec:"n"`
	Root       []byte         `codec:"root"`
	Filled     [][]byte       `codec:"filled"`
	Window     uint64         `codec:"w"`
	NextEpoch  uint64         `codec:"epoch"`
	Roots      []SnapshotRoot `codec:"roots"`
}

func (s *State) Snapshot() Snapshot {
	filled := make([][]byte, len(s.st.Filled))
	for i := range s.st.Filled {
		filled[i] = elementBytes(&s.st.Filled[i])
	}
	records := s.history.Records()
	sort.Slice(records, func(i, j int) bool { return records[i].Epoch < records[j].Epoch })
	roots := make([]SnapshotRoot, len(records))
	for i, rec := range records {
		roots[i] = SnapshotRoot{Root: elementBytes(&rec.Root), Timestamp: rec.Timestamp, Epoch: rec.Epoch}
	}
	return Snapshot{
		Version:    SnapshotVersion,
		Depth:      s.cfg.Depth,
		HasherName: s.Hasher().Name(),
		NextIndex:  s.st.NextIndex,
		Root:       elementBytes(&s.st.Root),
		Filled:     filled,
		Window:     s.window,
		NextEpoch:  s.history.Epoch(),
		Roots:      roots,
	}
}

func (snap Snapshot) Encode() ([]byte, error) {
	return msgpack.EncodeCanonical(snap)
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Decode(&snap, b); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func decodeElement(what string, b []byte) (uint256.Int, error) {
	x, err := elementFromBytes(b)
	if err != nil {
		return uint256.Int{}, errors.Wrap(err, what)
	}
	if x == nil {
		return uint256.Int{}, errors.Errorf("%s is missing", what)
	}
	if err := field.Check(what, x); err != nil {
		return uint256.Int{}, err
	}
	return *x, nil
}

// Restore rebuilds a State from snap. cfg supplies the owner; its depth and
// hasher must match the snapshot's.
func Restore(cfg Config, snap Snapshot, clock Clock, journal Journal) (*State, error) {
	if snap.Version != SnapshotVersion {
		return nil, errors.Errorf("snapshot version %d is not supported (want %d)", snap.Version, SnapshotVersion)
	}
	if snap.Depth != cfg.Depth {
		return nil, merkle.NewInvalidConfigError(fmt.Sprintf("snapshot has depth %d, config has %d", snap.Depth, cfg.Depth))
	}
	s, err := newState(cfg, clock, journal)
	if err != nil {
		return nil, err
	}
	if name := s.Hasher().Name(); snap.HasherName != name {
		return nil, merkle.NewInvalidConfigError(fmt.Sprintf("snapshot uses hasher %q, config uses %q", snap.HasherName, name))
	}
	if len(snap.Filled) != snap.Depth {
		return nil, errors.Errorf("snapshot caches %d levels for depth %d", len(snap.Filled), snap.Depth)
	}
	if snap.NextIndex > s.tree.Config().Capacity() {
		return nil, errors.Errorf("snapshot holds %d leaves, more than the tree capacity", snap.NextIndex)
	}

	st := merkle.TreeState{NextIndex: snap.NextIndex, Filled: make([]uint256.Int, snap.Depth)}
	if st.Root, err = decodeElement("root", snap.Root); err != nil {
		return nil, err
	}
	for i, b := range snap.Filled {
		if st.Filled[i], err = decodeElement(fmt.Sprintf("filled[%d]", i), b); err != nil {
			return nil, err
		}
	}
	records := make([]merkle.RootRecord, len(snap.Roots))
	for i, r := range snap.Roots {
		root, err := decodeElement(fmt.Sprintf("roots[%d]", i), r.Root)
		if err != nil {
			return nil, err
		}
		if r.Epoch >= snap.NextEpoch {
			return nil, errors.Errorf("root epoch %d is not below next epoch %d", r.Epoch, snap.NextEpoch)
		}
		records[i] = merkle.RootRecord{Root: root, Timestamp: r.Timestamp, Epoch: r.Epoch}
	}

	s.st = st
	s.history = merkle.RestoreRootHistory(records, snap.NextEpoch)
	s.window = snap.Window
	return s, nil
}
