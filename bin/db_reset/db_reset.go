package main

import (
	"context"
	"flag"

	"github.com/jmoiron/sqlx"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/storage"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func inner() error {
	driverPtr := flag.String("driver", "postgres", "sqlite3 or postgres")
	dsnPtr := flag.String("dsn", "user=foo dbname=registry sslmode=disable", "journal database")
	treeIdPtr := flag.String("treeId", "registry", "tree id")
	levelDBPtr := flag.String("leveldb", "", "also drop this tree's nodes from the leveldb directory")
	flag.Parse()

	ctx := logger.NewContext(context.TODO(), logger.NewStandard("db_reset"))

	db, err := sqlx.Open(*driverPtr, *dsnPtr)
	if err != nil {
		return err
	}
	defer db.Close()

	err = storage.NewSQLJournal(db, []byte(*treeIdPtr)).Reset()
	if err != nil {
		return err
	}
	err = storage.NewMerkleStorageEngine(db, []byte(*treeIdPtr)).Reset()
	if err != nil {
		return err
	}
	ctx.Info("reset journal and node tables")

	if *levelDBPtr != "" {
		eng, err := storage.OpenLevelNodeEngine(*levelDBPtr, []byte(*treeIdPtr), 0)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := eng.Reset(ctx); err != nil {
			return err
		}
		ctx.Info("dropped tree %q from %s", *treeIdPtr, *levelDBPtr)
	}
	return nil
}

func main() {
	err := inner()
	if err != nil {
		panic(err)
	}
}
