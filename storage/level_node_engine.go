package storage

import (
	"encoding/binary"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/pkg/errors"
)

// DefaultNodeCacheSize bounds the number of positions kept in memory.
const DefaultNodeCacheSize = 1 << 20

// LevelNodeEngine implements merkle.StorageEngine on top of leveldb. Keys
// are treeId || level || big-endian index, values the 32-byte node hash.
// Nodes at or above CacheMinLevel go through an lru cache, which also
// remembers positions known to be empty.
type LevelNodeEngine struct {
	leveldb   *leveldb.DB
	treeId    []byte
	nodeCache *lru.Cache[merkle.Position, *uint256.Int]

	CacheMinLevel uint8

	TotalLookupNodes atomic.Int64
	TotalCacheHits   atomic.Int64
	TotalCacheMiss   atomic.Int64
	TotalEvictions   atomic.Int64
}

var _ merkle.StorageEngine = (*LevelNodeEngine)(nil)

func NewLevelNodeEngine(db *leveldb.DB, treeId []byte, cacheSize int) (*LevelNodeEngine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultNodeCacheSize
	}
	cache, err := lru.New[merkle.Position, *uint256.Int](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create node cache")
	}
	return &LevelNodeEngine{
		leveldb:   db,
		treeId:    append([]byte(nil), treeId...),
		nodeCache: cache,
	}, nil
}

// OpenLevelNodeEngine opens (creating if needed) the leveldb at path.
func OpenLevelNodeEngine(path string, treeId []byte, cacheSize int) (*LevelNodeEngine, error) {
	opts := opt.Options{
		// BlockCacheCapacity: 256 * opt.MiB,
		// WriteBuffer:        64 * opt.MiB,
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open leveldb at %s", path)
	}
	return NewLevelNodeEngine(db, treeId, cacheSize)
}

func (m *LevelNodeEngine) calcKey(p merkle.Position) []byte {
	b := make([]byte, len(m.treeId)+9)
	n := copy(b, m.treeId)
	b[n] = p.Level
	binary.BigEndian.PutUint64(b[n+1:], p.Index)
	return b
}

func (m *LevelNodeEngine) cached(p merkle.Position) bool {
	return p.Level >= m.CacheMinLevel
}

func (m *LevelNodeEngine) StoreNodes(ctx logger.ContextInterface, phps []merkle.PositionHashPair) error {
	batch := new(leveldb.Batch)
	for _, php := range phps {
		v := php.Hash.Bytes32()
		batch.Put(m.calcKey(php.Position), v[:])
	}
	if err := m.leveldb.Write(batch, nil); err != nil {
		return errors.Wrap(err, "cannot write nodes")
	}
	for _, php := range phps {
		if m.cached(php.Position) {
			h := php.Hash
			if m.nodeCache.Add(php.Position, &h) {
				m.TotalEvictions.Add(1)
			}
		}
	}
	return nil
}

func (m *LevelNodeEngine) LookupNodes(ctx logger.ContextInterface, positions []merkle.Position) ([]*uint256.Int, error) {
	ret := make([]*uint256.Int, len(positions))
	for i, p := range positions {
		h, err := m.lookupNode(p)
		switch err.(type) {
		case nil:
			ret[i] = h
		case merkle.NodeNotFoundError:
		default:
			return nil, err
		}
	}
	return ret, nil
}

func (m *LevelNodeEngine) lookupNode(p merkle.Position) (*uint256.Int, error) {
	m.TotalLookupNodes.Add(1)
	if m.cached(p) {
		if v, ok := m.nodeCache.Get(p); ok {
			m.TotalCacheHits.Add(1)
			if v == nil {
				return nil, merkle.NewNodeNotFoundError()
			}
			return new(uint256.Int).Set(v), nil
		}
		m.TotalCacheMiss.Add(1)
	}

	val, err := m.leveldb.Get(m.calcKey(p), nil)
	var h *uint256.Int
	switch err {
	case nil:
		if len(val) != 32 {
			return nil, errors.Errorf("node %s is stored in %d bytes", p, len(val))
		}
		h = new(uint256.Int).SetBytes(val)
	case leveldb.ErrNotFound:
	default:
		return nil, errors.Wrapf(err, "cannot read node %s", p)
	}

	if m.cached(p) {
		var c *uint256.Int
		if h != nil {
			c = new(uint256.Int).Set(h)
		}
		if m.nodeCache.Add(p, c) {
			m.TotalEvictions.Add(1)
		}
	}
	if h == nil {
		return nil, merkle.NewNodeNotFoundError()
	}
	return h, nil
}

// Len counts the nodes stored for this tree.
func (m *LevelNodeEngine) Len() (int, error) {
	iter := m.leveldb.NewIterator(util.BytesPrefix(m.treeId), nil)
	n := 0
	for iter.Next() {
		n++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "cannot iterate nodes")
	}
	return n, nil
}

// Reset deletes every node of this tree.
func (m *LevelNodeEngine) Reset(ctx logger.ContextInterface) error {
	iter := m.leveldb.NewIterator(util.BytesPrefix(m.treeId), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "cannot iterate nodes")
	}
	if err := m.leveldb.Write(batch, nil); err != nil {
		return errors.Wrap(err, "cannot delete nodes")
	}
	m.nodeCache.Purge()
	ctx.Info("deleted %d nodes", batch.Len())
	return nil
}

// Compact compacts the key range of this tree.
func (m *LevelNodeEngine) Compact() error {
	return errors.Wrap(m.leveldb.CompactRange(*util.BytesPrefix(m.treeId)), "compaction failed")
}

func (m *LevelNodeEngine) Close() error {
	return m.leveldb.Close()
}
