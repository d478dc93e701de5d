package merkle

import (
	"github.com/holiman/uint256"
)

// RootRecord is one entry of the root history.
type RootRecord struct {
	Root      uint256.Int
	Timestamp uint64 // unix seconds
	Epoch     uint64
}

// RootHistory remembers when each root was last produced. Every Record call
// consumes an epoch number, also when the same root value comes back; only
// the latest timestamp is kept per root value.
type RootHistory struct {
	timestamps map[uint256.Int]RootRecord
	nextEpoch  uint64
}

func NewRootHistory() *RootHistory {
	return &RootHistory{timestamps: make(map[uint256.Int]RootRecord)}
}

// Record stores timestamp(root) = now and returns the entry with the epoch
// assigned to it.
func (h *RootHistory) Record(root *uint256.Int, now uint64) RootRecord {
	rec := RootRecord{Root: *root, Timestamp: now, Epoch: h.nextEpoch}
	h.timestamps[*root] = rec
	h.nextEpoch++
	return rec
}

// Lookup returns the latest record of root, if it was ever recorded.
func (h *RootHistory) Lookup(root *uint256.Int) (RootRecord, bool) {
	rec, ok := h.timestamps[*root]
	return rec, ok
}

// IsValid reports whether root is acceptable at now. A root that was never
// recorded is never valid. With window == 0 recorded roots never expire;
// otherwise a root is valid while now <= timestamp + window.
func (h *RootHistory) IsValid(root *uint256.Int, window uint64, now uint64) bool {
	if root == nil {
		return false
	}
	rec, ok := h.timestamps[*root]
	if !ok {
		return false
	}
	if window == 0 {
		return true
	}
	deadline := rec.Timestamp + window
	if deadline < rec.Timestamp {
		// overflow: the window reaches past the end of time
		return true
	}
	return now <= deadline
}

// Epoch is the epoch the next Record call will assign.
func (h *RootHistory) Epoch() uint64 {
	return h.nextEpoch
}

// Len is the number of distinct roots recorded.
func (h *RootHistory) Len() int {
	return len(h.timestamps)
}

// Records returns every retained record, in no particular order.
func (h *RootHistory) Records() []RootRecord {
	ret := make([]RootRecord, 0, len(h.timestamps))
	for _, rec := range h.timestamps {
		ret = append(ret, rec)
	}
	return ret
}

// RestoreRootHistory rebuilds a history from retained records and the next
// epoch to hand out.
func RestoreRootHistory(records []RootRecord, nextEpoch uint64) *RootHistory {
	h := NewRootHistory()
	for _, rec := range records {
		h.timestamps[rec.Root] = rec
	}
	h.nextEpoch = nextEpoch
	return h
}
