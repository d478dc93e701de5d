package merkle

import (
	"sync"
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"
)

// InMemoryStorageEngine keeps nodes in a map. It is used by tests and by
// indexers small enough to rebuild from the journal at every start.
type InMemoryStorageEngine struct {
	sync.RWMutex
	Nodes map[Position]uint256.Int

	TotalStores  atomic.Int64
	TotalLookups atomic.Int64
}

var _ StorageEngine = (*InMemoryStorageEngine)(nil)

func NewInMemoryStorageEngine() *InMemoryStorageEngine {
	return &InMemoryStorageEngine{Nodes: make(map[Position]uint256.Int)}
}

func (i *InMemoryStorageEngine) StoreNodes(ctx logger.ContextInterface, phps []PositionHashPair) error {
	i.Lock()
	defer i.Unlock()
	for _, php := range phps {
		i.Nodes[php.Position] = php.Hash
	}
	i.TotalStores.Add(int64(len(phps)))
	return nil
}

func (i *InMemoryStorageEngine) LookupNodes(ctx logger.ContextInterface, positions []Position) ([]*uint256.Int, error) {
	i.RLock()
	defer i.RUnlock()
	ret := make([]*uint256.Int, len(positions))
	for j, p := range positions {
		if h, ok := i.Nodes[p]; ok {
			ret[j] = new(uint256.Int).Set(&h)
		}
	}
	i.TotalLookups.Add(int64(len(positions)))
	return ret, nil
}

func (i *InMemoryStorageEngine) Len() int {
	i.RLock()
	defer i.RUnlock()
	return len(i.Nodes)
}
