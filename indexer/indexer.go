// Package indexer rebuilds the full registry tree from the event journal so
// it can serve sibling paths, which the registry itself never stores.
package indexer

import (
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/registry"
	"github.com/mvkdcrypto/rpregistry/storage"
	"github.com/pkg/errors"
)

// Checkpointer persists how far the indexer got. storage.SQLJournal
// implements it.
type Checkpointer interface {
	LoadCheckpoint(ctx logger.ContextInterface, name string) (storage.Checkpoint, error)
	SaveCheckpoint(ctx logger.ContextInterface, c storage.Checkpoint) error
}

// RootSource lists the roots recorded at or before a journal position,
// newest first. storage.SQLJournal implements it; a Checkpointer that also
// implements it lets a resumed indexer serve Latest and Roots right away.
type RootSource interface {
	RootsUpTo(ctx logger.ContextInterface, seq uint64, limit int) ([]storage.SequencedRoot, error)
}

type Config struct {
	// Name identifies the checkpoint row.
	Name string
	// BatchSize is the number of events read per query.
	BatchSize int
	// MaxRoots is how many recent roots Roots can return.
	MaxRoots int
}

func DefaultConfig() Config {
	return Config{Name: "indexer", BatchSize: 1000, MaxRoots: 100}
}

type RootInfo struct {
	Root      uint256.Int
	Timestamp uint64
	Epoch     uint64
	Seq       uint64
}

// Stats counts what the indexer applied. LastSeq and Leaves survive a
// restart through the checkpoint; the event counters only cover what this
// process applied.
type Stats struct {
	LastSeq        uint64
	Leaves         uint64
	Added          uint64
	Updates        uint64
	Removals       uint64
	RootsSeen      uint64
	RootMismatches uint64
	WindowChanges  uint64
	SkippedEvents  uint64
}

// AccountProof is everything a client needs to prove membership of an
// account, or to authorize an update or removal of it.
type AccountProof struct {
	AccountIndex uint64
	TreeIndex    uint64
	Commitment   *uint256.Int
	Root         *uint256.Int
	Siblings     []*uint256.Int
	Depth        int
	Valid        bool
}

// Indexer replays a journal into a SparseTree. Sync and Run write; every
// other method only reads and may run concurrently with them.
type Indexer struct {
	sync.RWMutex
	cfg         Config
	tree        *merkle.SparseTree
	source      registry.EventReader
	checkpoints Checkpointer

	latest *RootInfo
	roots  []RootInfo // oldest first, at most cfg.MaxRoots
	stats  Stats
}

// New creates an indexer. If checkpoints is not nil the indexer resumes
// where the saved checkpoint left off, so tree must then be backed by the
// same persistent engine it was built in. When checkpoints is also a
// RootSource the recent roots up to the checkpoint are reloaded from it.
func New(ctx logger.ContextInterface, cfg Config, tree *merkle.SparseTree, source registry.EventReader,
	checkpoints Checkpointer) (*Indexer, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRoots <= 0 {
		cfg.MaxRoots = def.MaxRoots
	}
	if tree == nil || source == nil {
		return nil, merkle.NewInvalidConfigError("the indexer needs a tree and an event source")
	}

	ix := &Indexer{cfg: cfg, tree: tree, source: source, checkpoints: checkpoints}
	if checkpoints != nil {
		c, err := checkpoints.LoadCheckpoint(ctx, cfg.Name)
		if err != nil {
			return nil, err
		}
		ix.stats.LastSeq = c.Seq
		ix.stats.Leaves = c.Leaves
		if c.Seq > 0 {
			ctx.Info("resuming %s after event %d with %d leaves", cfg.Name, c.Seq, c.Leaves)
			if rs, ok := checkpoints.(RootSource); ok {
				if err := ix.loadRoots(ctx, rs, c.Seq); err != nil {
					return nil, err
				}
			}
		}
	}
	return ix, nil
}

func (ix *Indexer) loadRoots(ctx logger.ContextInterface, rs RootSource, seq uint64) error {
	recent, err := rs.RootsUpTo(ctx, seq, ix.cfg.MaxRoots)
	if err != nil {
		return errors.Wrap(err, "cannot reload recent roots")
	}
	ix.roots = make([]RootInfo, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		ix.roots = append(ix.roots, RootInfo{Root: r.Root, Timestamp: r.Timestamp, Epoch: r.Epoch, Seq: r.Seq})
	}
	if n := len(ix.roots); n > 0 {
		latest := ix.roots[n-1]
		ix.latest = &latest
		ctx.Debug("reloaded %d roots, latest epoch %d", n, latest.Epoch)
	}
	return nil
}

// Sync applies every event not seen yet and returns how many it applied.
func (ix *Indexer) Sync(ctx logger.ContextInterface) (int, error) {
	total := 0
	for {
		if err := ctx.Ctx().Err(); err != nil {
			return total, err
		}
		ix.RLock()
		after := ix.stats.LastSeq
		ix.RUnlock()

		events, err := ix.source.ReadEvents(ctx, after, ix.cfg.BatchSize)
		if err != nil {
			return total, errors.Wrap(err, "cannot read journal")
		}
		if len(events) == 0 {
			return total, nil
		}

		n, err := ix.applyBatch(ctx, events)
		total += n
		if cerr := ix.saveCheckpoint(ctx); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return total, err
		}
		ctx.Debug("applied %d events, now at %d", n, events[n-1].Seq)
	}
}

func (ix *Indexer) applyBatch(ctx logger.ContextInterface, events []registry.SequencedEvent) (int, error) {
	ix.Lock()
	defer ix.Unlock()
	for i, se := range events {
		if err := ix.apply(ctx, se); err != nil {
			return i, errors.Wrapf(err, "cannot apply event %d", se.Seq)
		}
		ix.stats.LastSeq = se.Seq
	}
	return len(events), nil
}

func (ix *Indexer) saveCheckpoint(ctx logger.ContextInterface) error {
	if ix.checkpoints == nil {
		return nil
	}
	ix.RLock()
	c := storage.Checkpoint{Name: ix.cfg.Name, Seq: ix.stats.LastSeq, Leaves: ix.stats.Leaves}
	ix.RUnlock()
	return ix.checkpoints.SaveCheckpoint(ctx, c)
}

func (ix *Indexer) treeIndex(accountIndex uint64) (uint64, error) {
	capacity := ix.tree.Config().Capacity()
	if accountIndex == 0 || accountIndex > capacity {
		return 0, merkle.NewInvalidIndexError(accountIndex, capacity+1)
	}
	return accountIndex - 1, nil
}

func (ix *Indexer) apply(ctx logger.ContextInterface, se registry.SequencedEvent) error {
	switch se.Kind {
	case registry.AccountAdded, registry.AccountUpdated, registry.AccountRemoved:
		if se.AccountIndex == 0 {
			ctx.Warning("event %d refers to account 0, skipping", se.Seq)
			ix.stats.SkippedEvents++
			return nil
		}
		leaf, err := ix.treeIndex(se.AccountIndex)
		if err != nil {
			return err
		}
		value := se.Commitment
		if se.Kind == registry.AccountRemoved {
			value = field.Zero
		}
		if err := ix.tree.Set(ctx, leaf, value); err != nil {
			return err
		}
		switch se.Kind {
		case registry.AccountAdded:
			ix.stats.Added++
			if se.AccountIndex > ix.stats.Leaves {
				ix.stats.Leaves = se.AccountIndex
			}
		case registry.AccountUpdated:
			ix.stats.Updates++
		case registry.AccountRemoved:
			ix.stats.Removals++
		}
	case registry.RootRecorded:
		ix.stats.RootsSeen++
		info := RootInfo{Timestamp: se.Timestamp, Epoch: se.Epoch, Seq: se.Seq}
		if se.Root != nil {
			info.Root = *se.Root
		}
		ix.latest = &info
		ix.roots = append(ix.roots, info)
		if len(ix.roots) > ix.cfg.MaxRoots {
			ix.roots = ix.roots[len(ix.roots)-ix.cfg.MaxRoots:]
		}

		ours, err := ix.tree.Root(ctx)
		if err != nil {
			return err
		}
		if !ours.Eq(&info.Root) {
			ix.stats.RootMismatches++
			ctx.Warning("root mismatch at epoch %d: registry recorded %s, computed %s",
				info.Epoch, field.Hex(&info.Root), field.Hex(ours))
		} else {
			ctx.Debug("root %s (epoch %d) verified", field.Hex(ours), info.Epoch)
		}
	case registry.RootValidityWindowUpdated:
		ix.stats.WindowChanges++
		ctx.Info("registry root validity window changed from %d to %d", se.OldWindow, se.NewWindow)
	default:
		ctx.Warning("skipping event %d of unknown kind %s", se.Seq, se.Kind)
		ix.stats.SkippedEvents++
	}
	return nil
}

// Run syncs every interval until ctx is cancelled. Sync errors are logged
// and retried on the next tick.
func (ix *Indexer) Run(ctx logger.ContextInterface, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := ix.Sync(ctx); err != nil {
			if ctx.Ctx().Err() != nil {
				return ctx.Ctx().Err()
			}
			ctx.Warning("sync failed after %d events: %v", n, err)
		} else if n > 0 {
			ctx.Info("synced %d events", n)
		}
		select {
		case <-ctx.Ctx().Done():
			return ctx.Ctx().Err()
		case <-ticker.C:
		}
	}
}

func (ix *Indexer) checkAccount(accountIndex uint64) (uint64, error) {
	if accountIndex == 0 || accountIndex > ix.stats.Leaves {
		return 0, merkle.NewInvalidIndexError(accountIndex, ix.stats.Leaves+1)
	}
	return accountIndex - 1, nil
}

// Proof returns the current sibling path of accountIndex. Valid reports
// whether the path replays to the indexer's root, which it always should.
func (ix *Indexer) Proof(ctx logger.ContextInterface, accountIndex uint64) (AccountProof, error) {
	ix.RLock()
	defer ix.RUnlock()
	leaf, err := ix.checkAccount(accountIndex)
	if err != nil {
		return AccountProof{}, err
	}
	p, err := ix.tree.Proof(ctx, leaf)
	if err != nil {
		return AccountProof{}, err
	}
	depth := ix.tree.Config().Depth
	valid, err := merkle.VerifyProof(ix.tree.Config().Hasher, p.Root, p.Leaf, p.Siblings, leaf, depth)
	if err != nil {
		return AccountProof{}, err
	}
	return AccountProof{
		AccountIndex: accountIndex,
		TreeIndex:    leaf,
		Commitment:   p.Leaf,
		Root:         p.Root,
		Siblings:     p.Siblings,
		Depth:        depth,
		Valid:        valid,
	}, nil
}

// Account returns the current commitment of accountIndex, 0 if removed.
func (ix *Indexer) Account(ctx logger.ContextInterface, accountIndex uint64) (*uint256.Int, error) {
	ix.RLock()
	defer ix.RUnlock()
	leaf, err := ix.checkAccount(accountIndex)
	if err != nil {
		return nil, err
	}
	return ix.tree.Leaf(ctx, leaf)
}

// Root is the root of the indexer's own tree.
func (ix *Indexer) Root(ctx logger.ContextInterface) (*uint256.Int, error) {
	ix.RLock()
	defer ix.RUnlock()
	return ix.tree.Root(ctx)
}

// Latest returns the last RootRecorded event seen.
func (ix *Indexer) Latest() (RootInfo, bool) {
	ix.RLock()
	defer ix.RUnlock()
	if ix.latest == nil {
		return RootInfo{}, false
	}
	return *ix.latest, true
}

// Roots returns up to limit recent roots, newest first. limit <= 0 means
// all retained.
func (ix *Indexer) Roots(limit int) []RootInfo {
	ix.RLock()
	defer ix.RUnlock()
	n := len(ix.roots)
	if limit > 0 && limit < n {
		n = limit
	}
	ret := make([]RootInfo, 0, n)
	for i := len(ix.roots) - 1; i >= 0 && len(ret) < n; i-- {
		ret = append(ret, ix.roots[i])
	}
	return ret
}

func (ix *Indexer) Stats() Stats {
	ix.RLock()
	defer ix.RUnlock()
	return ix.stats
}
