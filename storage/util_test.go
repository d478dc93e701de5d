package storage

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/syndtr/goleveldb/leveldb"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/stretchr/testify/require"
)

func newSqliteForTest(t testing.TB) *sqlx.DB {
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newJournalForTest(t testing.TB, db *sqlx.DB, treeId string) *SQLJournal {
	j := NewSQLJournal(db, []byte(treeId))
	require.NoError(t, j.Reset())
	return j
}

func newLevelDBForTest(t testing.TB) *leveldb.DB {
	db, err := leveldb.Open(lstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
