package storage

import (
	"database/sql"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/registry"
	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"
)

// SQLJournal stores the registry's events in an ordered log table plus
// query-friendly projections of them, all keyed by tree id so several
// registries can share a database. It works with sqlite3 and postgres.
//
// Unsigned values that may not fit in a signed 64-bit column (timestamps,
// windows) are stored bit-for-bit as int64.
type SQLJournal struct {
	db     *sqlx.DB
	treeId []byte
}

var _ registry.Journal = (*SQLJournal)(nil)
var _ registry.EventReader = (*SQLJournal)(nil)

func NewSQLJournal(db *sqlx.DB, treeId []byte) *SQLJournal {
	return &SQLJournal{db: db, treeId: append([]byte(nil), treeId...)}
}

func (m *SQLJournal) DB() *sqlx.DB {
	return m.db
}

// Reset drops and recreates every table.
func (m *SQLJournal) Reset() error {
	tx := m.db.MustBegin()
	tx.MustExec(`DROP TABLE IF EXISTS registry_events`)
	tx.MustExec(`CREATE TABLE registry_events(
		tree_id bytea,
		seq bigint,
		kind integer,
		payload bytea,
		PRIMARY KEY (tree_id, seq)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS accounts`)
	tx.MustExec(`CREATE TABLE accounts(
		tree_id bytea,
		account_index bigint,
		commitment text,
		added_seq bigint,
		updated_seq bigint,
		PRIMARY KEY (tree_id, account_index)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS account_updates`)
	tx.MustExec(`CREATE TABLE account_updates(
		tree_id bytea,
		seq bigint,
		account_index bigint,
		old_commitment text,
		new_commitment text,
		removal boolean,
		PRIMARY KEY (tree_id, seq)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS roots`)
	tx.MustExec(`CREATE TABLE roots(
		tree_id bytea,
		epoch bigint,
		root text,
		recorded_at bigint,
		seq bigint,
		PRIMARY KEY (tree_id, epoch)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS window_changes`)
	tx.MustExec(`CREATE TABLE window_changes(
		tree_id bytea,
		seq bigint,
		old_window bigint,
		new_window bigint,
		PRIMARY KEY (tree_id, seq)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS checkpoints`)
	tx.MustExec(`CREATE TABLE checkpoints(
		tree_id bytea,
		name text,
		seq bigint,
		leaves bigint,
		PRIMARY KEY (tree_id, name)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS snapshots`)
	tx.MustExec(`CREATE TABLE snapshots(
		tree_id bytea,
		seq bigint,
		version integer,
		body bytea,
		PRIMARY KEY (tree_id, seq)
	);`)
	return errors.Wrap(tx.Commit(), "cannot commit schema reset")
}

func (m *SQLJournal) exec(tx *sqlx.Tx, builder sq.Sqlizer) error {
	q, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(err, "cannot build query")
	}
	q = m.db.Rebind(q)
	if _, err := tx.Exec(q, args...); err != nil {
		return errors.Wrap(err, "query failed")
	}
	return nil
}

func (m *SQLJournal) lastSeq(tx *sqlx.Tx) (uint64, error) {
	var seq int64
	q := m.db.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM registry_events WHERE tree_id=?`)
	if err := tx.Get(&seq, q, m.treeId); err != nil {
		return 0, errors.Wrap(err, "cannot read last sequence number")
	}
	return uint64(seq), nil
}

// Append writes events and their projections in one transaction.
func (m *SQLJournal) Append(ctx logger.ContextInterface, events []registry.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := m.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	seq, err := m.lastSeq(tx)
	if err != nil {
		return err
	}

	builder := sq.
		Insert("registry_events").
		Columns("tree_id", "seq", "kind", "payload")
	for i, e := range events {
		payload, err := registry.EncodeEvent(e)
		if err != nil {
			return err
		}
		builder = builder.Values(m.treeId, seq+uint64(i)+1, int(e.Kind), payload)
	}
	if err := m.exec(tx, builder); err != nil {
		return err
	}

	for i, e := range events {
		if err := m.project(tx, seq+uint64(i)+1, e); err != nil {
			return errors.Wrapf(err, "cannot project %s", e.Kind)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "cannot commit events")
	}
	ctx.Debug("journaled %d events up to seq %d", len(events), seq+uint64(len(events)))
	return nil
}

func (m *SQLJournal) project(tx *sqlx.Tx, seq uint64, e registry.Event) error {
	switch e.Kind {
	case registry.AccountAdded:
		return m.exec(tx, sq.
			Insert("accounts").
			Columns("tree_id", "account_index", "commitment", "added_seq", "updated_seq").
			Values(m.treeId, e.AccountIndex, field.Hex(e.Commitment), seq, seq))
	case registry.AccountUpdated, registry.AccountRemoved:
		old, cur := e.OldCommitment, e.Commitment
		if e.Kind == registry.AccountRemoved {
			old, cur = e.Commitment, field.Zero
		}
		if err := m.exec(tx, sq.
			Insert("account_updates").
			Columns("tree_id", "seq", "account_index", "old_commitment", "new_commitment", "removal").
			Values(m.treeId, seq, e.AccountIndex, field.Hex(old), field.Hex(cur),
				e.Kind == registry.AccountRemoved)); err != nil {
			return err
		}
		return m.exec(tx, sq.
			Update("accounts").
			Set("commitment", field.Hex(cur)).
			Set("updated_seq", seq).
			Where(sq.Eq{"tree_id": m.treeId, "account_index": e.AccountIndex}))
	case registry.RootRecorded:
		return m.exec(tx, sq.
			Insert("roots").
			Columns("tree_id", "epoch", "root", "recorded_at", "seq").
			Values(m.treeId, e.Epoch, field.Hex(e.Root), int64(e.Timestamp), seq))
	case registry.RootValidityWindowUpdated:
		return m.exec(tx, sq.
			Insert("window_changes").
			Columns("tree_id", "seq", "old_window", "new_window").
			Values(m.treeId, seq, int64(e.OldWindow), int64(e.NewWindow)))
	default:
		return errors.Errorf("unknown event kind %d", e.Kind)
	}
}

type eventRow struct {
	Seq     int64  `db:"seq"`
	Payload []byte `db:"payload"`
}

func (m *SQLJournal) ReadEvents(ctx logger.ContextInterface, after uint64, limit int) ([]registry.SequencedEvent, error) {
	builder := sq.
		Select("seq", "payload").
		From("registry_events").
		Where(sq.Eq{"tree_id": m.treeId}).
		Where(sq.Gt{"seq": after}).
		OrderBy("seq")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "cannot build query")
	}
	var rows []eventRow
	if err := m.db.SelectContext(ctx.Ctx(), &rows, m.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "cannot read events")
	}

	ret := make([]registry.SequencedEvent, len(rows))
	for i, row := range rows {
		e, err := registry.DecodeEvent(row.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "event %d", row.Seq)
		}
		ret[i] = registry.SequencedEvent{Seq: uint64(row.Seq), Event: e}
	}
	return ret, nil
}

func (m *SQLJournal) LastSeq(ctx logger.ContextInterface) (uint64, error) {
	tx, err := m.db.Beginx()
	if err != nil {
		return 0, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback()
	return m.lastSeq(tx)
}

// Account returns the current commitment of accountIndex as projected from
// the journal; 0 after removal.
func (m *SQLJournal) Account(ctx logger.ContextInterface, accountIndex uint64) (*uint256.Int, bool, error) {
	var commitment string
	q := m.db.Rebind(`SELECT commitment FROM accounts WHERE tree_id=? AND account_index=?`)
	err := m.db.GetContext(ctx.Ctx(), &commitment, q, m.treeId, accountIndex)
	switch err {
	case nil:
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, errors.Wrap(err, "cannot read account")
	}
	c, err := field.FromHex(commitment)
	if err != nil {
		return nil, false, errors.Wrapf(err, "account %d", accountIndex)
	}
	return c, true, nil
}

type AccountUpdate struct {
	Seq           uint64
	AccountIndex  uint64
	OldCommitment *uint256.Int
	NewCommitment *uint256.Int
	Removal       bool
}

type accountUpdateRow struct {
	Seq           int64  `db:"seq"`
	AccountIndex  int64  `db:"account_index"`
	OldCommitment string `db:"old_commitment"`
	NewCommitment string `db:"new_commitment"`
	Removal       bool   `db:"removal"`
}

// AccountUpdates lists the updates and removals of accountIndex, oldest
// first.
func (m *SQLJournal) AccountUpdates(ctx logger.ContextInterface, accountIndex uint64) ([]AccountUpdate, error) {
	var rows []accountUpdateRow
	q := m.db.Rebind(`SELECT seq, account_index, old_commitment, new_commitment, removal
		FROM account_updates
		WHERE tree_id=? AND account_index=?
		ORDER BY seq`)
	if err := m.db.SelectContext(ctx.Ctx(), &rows, q, m.treeId, accountIndex); err != nil {
		return nil, errors.Wrap(err, "cannot read account updates")
	}
	ret := make([]AccountUpdate, len(rows))
	for i, row := range rows {
		old, err := field.FromHex(row.OldCommitment)
		if err != nil {
			return nil, err
		}
		cur, err := field.FromHex(row.NewCommitment)
		if err != nil {
			return nil, err
		}
		ret[i] = AccountUpdate{
			Seq:           uint64(row.Seq),
			AccountIndex:  uint64(row.AccountIndex),
			OldCommitment: old,
			NewCommitment: cur,
			Removal:       row.Removal,
		}
	}
	return ret, nil
}

type rootRow struct {
	Epoch      int64  `db:"epoch"`
	Root       string `db:"root"`
	RecordedAt int64  `db:"recorded_at"`
	Seq        int64  `db:"seq"`
}

// SequencedRoot is a recorded root with the journal position of its
// RootRecorded event.
type SequencedRoot struct {
	merkle.RootRecord
	Seq uint64
}

func (m *SQLJournal) selectRoots(ctx logger.ContextInterface, where sq.Sqlizer, limit int) ([]SequencedRoot, error) {
	builder := sq.
		Select("epoch", "root", "recorded_at", "seq").
		From("roots").
		Where(where).
		OrderBy("epoch DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "cannot build query")
	}
	var rows []rootRow
	if err := m.db.SelectContext(ctx.Ctx(), &rows, m.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "cannot read roots")
	}
	ret := make([]SequencedRoot, len(rows))
	for i, row := range rows {
		root, err := field.FromHex(row.Root)
		if err != nil {
			return nil, err
		}
		ret[i] = SequencedRoot{
			RootRecord: merkle.RootRecord{Root: *root, Timestamp: uint64(row.RecordedAt), Epoch: uint64(row.Epoch)},
			Seq:        uint64(row.Seq),
		}
	}
	return ret, nil
}

// Roots returns up to limit recorded roots, newest first.
func (m *SQLJournal) Roots(ctx logger.ContextInterface, limit int) ([]merkle.RootRecord, error) {
	rows, err := m.selectRoots(ctx, sq.Eq{"tree_id": m.treeId}, limit)
	if err != nil {
		return nil, err
	}
	ret := make([]merkle.RootRecord, len(rows))
	for i, row := range rows {
		ret[i] = row.RootRecord
	}
	return ret, nil
}

// RootsUpTo returns up to limit roots whose RootRecorded event is at or
// before seq, newest first.
func (m *SQLJournal) RootsUpTo(ctx logger.ContextInterface, seq uint64, limit int) ([]SequencedRoot, error) {
	return m.selectRoots(ctx, sq.And{
		sq.Eq{"tree_id": m.treeId},
		sq.LtOrEq{"seq": int64(seq)},
	}, limit)
}

// Checkpoint is how far a named consumer has processed the journal.
type Checkpoint struct {
	Name   string
	Seq    uint64
	Leaves uint64
}

// LoadCheckpoint returns the zero checkpoint if name never saved one.
func (m *SQLJournal) LoadCheckpoint(ctx logger.ContextInterface, name string) (Checkpoint, error) {
	var row struct {
		Seq    int64 `db:"seq"`
		Leaves int64 `db:"leaves"`
	}
	q := m.db.Rebind(`SELECT seq, leaves FROM checkpoints WHERE tree_id=? AND name=?`)
	err := m.db.GetContext(ctx.Ctx(), &row, q, m.treeId, name)
	switch err {
	case nil:
		return Checkpoint{Name: name, Seq: uint64(row.Seq), Leaves: uint64(row.Leaves)}, nil
	case sql.ErrNoRows:
		return Checkpoint{Name: name}, nil
	default:
		return Checkpoint{}, errors.Wrap(err, "cannot read checkpoint")
	}
}

func (m *SQLJournal) SaveCheckpoint(ctx logger.ContextInterface, c Checkpoint) error {
	tx, err := m.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	err = m.exec(tx, sq.
		Insert("checkpoints").
		Columns("tree_id", "name", "seq", "leaves").
		Values(m.treeId, c.Name, c.Seq, c.Leaves).
		Suffix("on conflict (tree_id, name) do update set seq=excluded.seq, leaves=excluded.leaves"))
	if err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "cannot commit checkpoint")
}

// SaveSnapshot stores snap as the state after event seq.
func (m *SQLJournal) SaveSnapshot(ctx logger.ContextInterface, seq uint64, snap registry.Snapshot) error {
	body, err := snap.Encode()
	if err != nil {
		return err
	}
	tx, err := m.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	err = m.exec(tx, sq.
		Insert("snapshots").
		Columns("tree_id", "seq", "version", "body").
		Values(m.treeId, seq, snap.Version, body).
		Suffix("on conflict (tree_id, seq) do update set version=excluded.version, body=excluded.body"))
	if err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "cannot commit snapshot")
}

// LoadSnapshot returns the most recent snapshot and the sequence number it
// was taken at. found is false when none was saved.
func (m *SQLJournal) LoadSnapshot(ctx logger.ContextInterface) (snap registry.Snapshot, seq uint64, found bool, err error) {
	var row struct {
		Seq  int64  `db:"seq"`
		Body []byte `db:"body"`
	}
	q := m.db.Rebind(`SELECT seq, body
		FROM snapshots
		WHERE tree_id=?
		ORDER BY seq DESC
		LIMIT 1`)
	err = m.db.GetContext(ctx.Ctx(), &row, q, m.treeId)
	switch err {
	case nil:
	case sql.ErrNoRows:
		return registry.Snapshot{}, 0, false, nil
	default:
		return registry.Snapshot{}, 0, false, errors.Wrap(err, "cannot read snapshot")
	}
	snap, err = registry.DecodeSnapshot(row.Body)
	if err != nil {
		return registry.Snapshot{}, 0, false, err
	}
	return snap, uint64(row.Seq), true, nil
}

type JournalStats struct {
	Events   uint64
	Accounts uint64
	Updates  uint64
	Removals uint64
	Roots    uint64
}

func (m *SQLJournal) Stats(ctx logger.ContextInterface) (JournalStats, error) {
	var s struct {
		Events   int64 `db:"events"`
		Accounts int64 `db:"accounts"`
		Updates  int64 `db:"updates"`
		Removals int64 `db:"removals"`
		Roots    int64 `db:"roots"`
	}
	q := m.db.Rebind(`SELECT
		(SELECT COUNT(*) FROM registry_events WHERE tree_id=?) AS events,
		(SELECT COUNT(*) FROM accounts WHERE tree_id=?) AS accounts,
		(SELECT COUNT(*) FROM account_updates WHERE tree_id=? AND NOT removal) AS updates,
		(SELECT COUNT(*) FROM account_updates WHERE tree_id=? AND removal) AS removals,
		(SELECT COUNT(*) FROM roots WHERE tree_id=?) AS roots`)
	if err := m.db.GetContext(ctx.Ctx(), &s, q, m.treeId, m.treeId, m.treeId, m.treeId, m.treeId); err != nil {
		return JournalStats{}, errors.Wrap(err, "cannot read stats")
	}
	return JournalStats{
		Events:   uint64(s.Events),
		Accounts: uint64(s.Accounts),
		Updates:  uint64(s.Updates),
		Removals: uint64(s.Removals),
		Roots:    uint64(s.Roots),
	}, nil
}
