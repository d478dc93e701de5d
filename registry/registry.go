// Package registry is the account registry: a fixed-depth incremental
// Merkle tree of identity commitments plus the history of roots it has
// produced. Account index i lives at leaf i-1; account index 0 is reserved.
package registry

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/pkg/errors"
)

// Clock returns the current time in unix seconds.
type Clock interface {
	Now() uint64
}

type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// State owns everything the registry keeps. It is not safe for concurrent
// use; wrap it in a Guard to share it.
//
// Every mutator either applies fully (tree updated, one root recorded,
// events journaled) or returns an error and changes nothing.
type State struct {
	cfg     Config
	tree    *merkle.Tree
	st      merkle.TreeState
	history *merkle.RootHistory
	window  uint64

	clock   Clock
	journal Journal
}

// NewState creates an empty registry. A nil clock means the system clock,
// a nil journal discards events.
func NewState(cfg Config, clock Clock, journal Journal) (*State, error) {
	s, err := newState(cfg, clock, journal)
	if err != nil {
		return nil, err
	}
	s.st = s.tree.Init()
	s.history = merkle.NewRootHistory()
	s.window = cfg.RootValidityWindow
	return s, nil
}

func newState(cfg Config, clock Clock, journal Journal) (*State, error) {
	tcfg, err := cfg.TreeConfig()
	if err != nil {
		return nil, err
	}
	tree, err := merkle.NewTree(tcfg)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if journal == nil {
		journal = NullJournal{}
	}
	return &State{cfg: cfg, tree: tree, clock: clock, journal: journal}, nil
}

func (s *State) Config() Config {
	return s.cfg
}

func (s *State) Hasher() field.Hasher {
	return s.tree.Config().Hasher
}

func checkCommitment(what string, c *uint256.Int) error {
	if err := field.Check(what, c); err != nil {
		return err
	}
	if c == nil || c.IsZero() {
		return merkle.NewInvalidCommitmentError(what + " must be nonzero")
	}
	return nil
}

// leafIndex maps an account index onto the slot it occupies, or fails with
// InvalidIndexError when no account was ever assigned that index.
func (s *State) leafIndex(accountIndex uint64) (uint64, error) {
	if accountIndex == 0 || accountIndex > s.st.NextIndex {
		return 0, merkle.NewInvalidIndexError(accountIndex, s.TotalAccounts())
	}
	return accountIndex - 1, nil
}

// commit journals events followed by the RootRecorded event of next.Root,
// and only then installs next as the current tree state.
func (s *State) commit(ctx logger.ContextInterface, next merkle.TreeState, events []Event) error {
	now := s.clock.Now()
	events = append(events, Event{
		Kind:      RootRecorded,
		Root:      new(uint256.Int).Set(&next.Root),
		Timestamp: now,
		Epoch:     s.history.Epoch(),
	})
	if err := s.journal.Append(ctx, events); err != nil {
		return errors.Wrap(err, "cannot journal registry events")
	}
	s.st = next
	rec := s.history.Record(&next.Root, now)
	ctx.Debug("recorded root %s at %d (epoch %d)", field.Hex(&rec.Root), rec.Timestamp, rec.Epoch)
	return nil
}

// AddOne appends commitment as a new account and returns its account index.
func (s *State) AddOne(ctx logger.ContextInterface, commitment *uint256.Int) (uint64, error) {
	if err := checkCommitment("commitment", commitment); err != nil {
		return 0, err
	}
	next := s.st.Clone()
	leaf, err := s.tree.Insert(&next, commitment)
	if err != nil {
		return 0, err
	}
	events := []Event{{
		Kind:         AccountAdded,
		AccountIndex: leaf + 1,
		Commitment:   new(uint256.Int).Set(commitment),
	}}
	if err := s.commit(ctx, next, events); err != nil {
		return 0, err
	}
	return leaf + 1, nil
}

// AddBatch appends commitments as consecutive accounts, records a single
// root, and returns the account index of the first one.
func (s *State) AddBatch(ctx logger.ContextInterface, commitments []*uint256.Int) (uint64, error) {
	if len(commitments) == 0 {
		return 0, merkle.NewEmptyBatchError()
	}
	if err := field.CheckAll("commitments", commitments); err != nil {
		return 0, err
	}
	for i, c := range commitments {
		if c == nil || c.IsZero() {
			return 0, merkle.NewInvalidCommitmentError(fmt.Sprintf("commitments[%d] must be nonzero", i))
		}
	}
	next := s.st.Clone()
	first, err := s.tree.InsertMany(&next, commitments)
	if err != nil {
		return 0, err
	}
	events := make([]Event, 0, len(commitments)+1)
	for i, c := range commitments {
		events = append(events, Event{
			Kind:         AccountAdded,
			AccountIndex: first + uint64(i) + 1,
			Commitment:   new(uint256.Int).Set(c),
		})
	}
	if err := s.commit(ctx, next, events); err != nil {
		return 0, err
	}
	ctx.Debug("added %d accounts starting at %d", len(commitments), first+1)
	return first + 1, nil
}

// Update replaces the commitment of accountIndex. siblings is the current
// sibling path of its leaf.
func (s *State) Update(ctx logger.ContextInterface, accountIndex uint64, oldCommitment, newCommitment *uint256.Int,
	siblings []*uint256.Int) error {
	leaf, err := s.leafIndex(accountIndex)
	if err != nil {
		return err
	}
	if err := checkCommitment("old commitment", oldCommitment); err != nil {
		return err
	}
	if err := checkCommitment("new commitment", newCommitment); err != nil {
		return err
	}
	next := s.st.Clone()
	if err := s.tree.Update(&next, leaf, oldCommitment, newCommitment, siblings); err != nil {
		return err
	}
	return s.commit(ctx, next, []Event{{
		Kind:          AccountUpdated,
		AccountIndex:  accountIndex,
		OldCommitment: new(uint256.Int).Set(oldCommitment),
		Commitment:    new(uint256.Int).Set(newCommitment),
	}})
}

// Remove sets the leaf of accountIndex back to 0. The index is not reused.
func (s *State) Remove(ctx logger.ContextInterface, accountIndex uint64, commitment *uint256.Int,
	siblings []*uint256.Int) error {
	leaf, err := s.leafIndex(accountIndex)
	if err != nil {
		return err
	}
	if err := checkCommitment("commitment", commitment); err != nil {
		return err
	}
	next := s.st.Clone()
	if err := s.tree.Remove(&next, leaf, commitment, siblings); err != nil {
		return err
	}
	return s.commit(ctx, next, []Event{{
		Kind:         AccountRemoved,
		AccountIndex: accountIndex,
		Commitment:   new(uint256.Int).Set(commitment),
	}})
}

func (s *State) Root() *uint256.Int {
	return new(uint256.Int).Set(&s.st.Root)
}

func (s *State) Depth() int {
	return s.tree.Depth()
}

// TotalAccounts counts the reserved account 0, so it is NumberOfLeaves()+1.
func (s *State) TotalAccounts() uint64 {
	return s.st.NextIndex + 1
}

func (s *State) NumberOfLeaves() uint64 {
	return s.st.NextIndex
}

func (s *State) ZeroValue(level int) (*uint256.Int, error) {
	return s.tree.ZeroValue(level)
}

func (s *State) RootValidityWindow() uint64 {
	return s.window
}

// IsValidRoot reports whether root was recorded and is still inside the
// validity window.
func (s *State) IsValidRoot(root *uint256.Int) bool {
	return s.history.IsValid(root, s.window, s.clock.Now())
}

// LookupRoot returns the latest record of root.
func (s *State) LookupRoot(root *uint256.Int) (merkle.RootRecord, bool) {
	return s.history.Lookup(root)
}

// SetRootValidityWindow changes the window for every later IsValidRoot
// call. 0 disables expiry.
func (s *State) SetRootValidityWindow(ctx logger.ContextInterface, seconds uint64) error {
	ev := Event{Kind: RootValidityWindowUpdated, OldWindow: s.window, NewWindow: seconds}
	if err := s.journal.Append(ctx, []Event{ev}); err != nil {
		return errors.Wrap(err, "cannot journal window change")
	}
	s.window = seconds
	ctx.Info("root validity window set to %d seconds (was %d)", ev.NewWindow, ev.OldWindow)
	return nil
}

// VerifyProofStateless checks a proof against any root, recorded or not,
// using the registry's hasher. index is the tree index (account index - 1)
// and must fit in depth bits; see merkle.VerifyProof.
func (s *State) VerifyProofStateless(root, leaf *uint256.Int, siblings []*uint256.Int, index uint64, depth int) (bool, error) {
	return merkle.VerifyProof(s.Hasher(), root, leaf, siblings, index, depth)
}

// TreeState returns a copy of the underlying tree state.
func (s *State) TreeState() merkle.TreeState {
	return s.st.Clone()
}
