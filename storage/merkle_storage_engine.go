package storage

import (
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"
)

// MerkleStorageEngine implements merkle.StorageEngine on a SQL table. It is
// a thin wrapper around the database and does not cache; use it when the
// tree should live next to the journal instead of in a leveldb directory.
type MerkleStorageEngine struct {
	db     *sqlx.DB
	treeId []byte

	// BatchSize bounds the rows written, and the positions looked up, per
	// statement.
	BatchSize int

	TotalLookupNodes atomic.Int64
	TotalStoreNodes  atomic.Int64
}

var _ merkle.StorageEngine = (*MerkleStorageEngine)(nil)

func NewMerkleStorageEngine(db *sqlx.DB, treeId []byte) *MerkleStorageEngine {
	return &MerkleStorageEngine{db: db, treeId: append([]byte(nil), treeId...), BatchSize: 400}
}

// Reset drops and recreates the node table of every tree.
func (m *MerkleStorageEngine) Reset() error {
	tx := m.db.MustBegin()
	tx.MustExec(`DROP TABLE IF EXISTS tree_nodes`)
	tx.MustExec(`CREATE TABLE tree_nodes(
		tree_id bytea,
		level integer,
		idx bigint,
		hash bytea,
		PRIMARY KEY (tree_id, level, idx)
	);`)
	return errors.Wrap(tx.Commit(), "cannot commit schema reset")
}

func (m *MerkleStorageEngine) batchSize() int {
	if m.BatchSize <= 0 {
		return 400
	}
	return m.BatchSize
}

func (m *MerkleStorageEngine) StoreNodes(ctx logger.ContextInterface, phps []merkle.PositionHashPair) error {
	if len(phps) == 0 {
		return nil
	}
	tx, err := m.db.BeginTxx(ctx.Ctx(), nil)
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	batch := m.batchSize()
	for i := 0; i < len(phps); i += batch {
		lim := i + batch
		if lim > len(phps) {
			lim = len(phps)
		}
		builder := sq.
			Insert("tree_nodes").
			Columns("tree_id", "level", "idx", "hash").
			Suffix("on conflict (tree_id, level, idx) do update set hash=excluded.hash")
		// a statement may not upsert the same row twice
		last := make(map[merkle.Position]int, lim-i)
		for j := i; j < lim; j++ {
			last[phps[j].Position] = j
		}
		for j := i; j < lim; j++ {
			php := phps[j]
			if last[php.Position] != j {
				continue
			}
			h := php.Hash.Bytes32()
			builder = builder.Values(m.treeId, int(php.Position.Level), int64(php.Position.Index), h[:])
		}

		q, args, err := builder.ToSql()
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, "cannot build query")
		}
		q = m.db.Rebind(q)
		if _, err := tx.ExecContext(ctx.Ctx(), q, args...); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "cannot store nodes")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "cannot commit nodes")
	}
	m.TotalStoreNodes.Add(int64(len(phps)))
	return nil
}

type nodeRow struct {
	Level int    `db:"level"`
	Idx   int64  `db:"idx"`
	Hash  []byte `db:"hash"`
}

func (m *MerkleStorageEngine) LookupNodes(ctx logger.ContextInterface, positions []merkle.Position) ([]*uint256.Int, error) {
	m.TotalLookupNodes.Add(int64(len(positions)))
	lookup := make(map[merkle.Position]*uint256.Int, len(positions))
	batch := m.batchSize()
	for i := 0; i < len(positions); i += batch {
		lim := i + batch
		if lim > len(positions) {
			lim = len(positions)
		}
		or := sq.Or{}
		for _, p := range positions[i:lim] {
			or = append(or, sq.Eq{"level": int(p.Level), "idx": int64(p.Index)})
		}
		q, args, err := sq.
			Select("level", "idx", "hash").
			From("tree_nodes").
			Where(sq.Eq{"tree_id": m.treeId}).
			Where(or).
			ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "cannot build query")
		}
		var rows []nodeRow
		if err := m.db.SelectContext(ctx.Ctx(), &rows, m.db.Rebind(q), args...); err != nil {
			return nil, errors.Wrap(err, "cannot look up nodes")
		}
		for _, r := range rows {
			if len(r.Hash) != 32 {
				return nil, errors.Errorf("node %d/%d has a %d-byte hash", r.Level, r.Idx, len(r.Hash))
			}
			lookup[merkle.Position{Level: uint8(r.Level), Index: uint64(r.Idx)}] = new(uint256.Int).SetBytes(r.Hash)
		}
	}

	ret := make([]*uint256.Int, len(positions))
	for i, p := range positions {
		if h, ok := lookup[p]; ok {
			ret[i] = new(uint256.Int).Set(h)
		}
	}
	return ret, nil
}

// Len counts the nodes stored for this tree.
func (m *MerkleStorageEngine) Len(ctx logger.ContextInterface) (int, error) {
	var count int
	q := m.db.Rebind(`SELECT COUNT(*) as c FROM tree_nodes WHERE tree_id=?`)
	if err := m.db.GetContext(ctx.Ctx(), &count, q, m.treeId); err != nil {
		return 0, errors.Wrap(err, "cannot count nodes")
	}
	return count, nil
}

// Clear deletes this tree's nodes and leaves other trees alone.
func (m *MerkleStorageEngine) Clear(ctx logger.ContextInterface) error {
	q := m.db.Rebind(`DELETE FROM tree_nodes WHERE tree_id=?`)
	if _, err := m.db.ExecContext(ctx.Ctx(), q, m.treeId); err != nil {
		return errors.Wrap(err, "cannot clear nodes")
	}
	return nil
}
