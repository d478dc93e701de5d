package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/jmoiron/sqlx"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/indexer"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/storage"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func mainInner() error {
	driverPtr := flag.String("driver", "sqlite3", "sqlite3 or postgres")
	dsnPtr := flag.String("dsn", "file:registry.db", "journal database")
	treeIdPtr := flag.String("treeId", "registry", "tree id")
	storePtr := flag.String("store", "memory", "where to keep tree nodes: memory, leveldb or sql")
	levelDBPtr := flag.String("leveldb", "nodes", "leveldb directory for -store leveldb")
	cachePtr := flag.Int("cache", storage.DefaultNodeCacheSize, "node cache size")
	depthPtr := flag.Int("depth", merkle.DefaultDepth, "tree depth")
	hasherPtr := flag.String("hasher", field.Poseidon2Name, "poseidon2 or keccak")
	watchPtr := flag.Duration("watch", 0, "keep polling the journal at this interval")
	proofPtr := flag.Uint64("proof", 0, "print the proof of this account after syncing")
	statsPtr := flag.Bool("stats", false, "print indexer and journal stats")
	debugPtr := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	l := logger.NewStandard("indexer")
	l.Configure(*debugPtr)
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx := logger.NewContext(sigCtx, l)

	h, err := field.NewHasher(*hasherPtr)
	if err != nil {
		return err
	}
	cfg, err := merkle.NewConfig(h, *depthPtr)
	if err != nil {
		return err
	}

	db, err := sqlx.Connect(*driverPtr, *dsnPtr)
	if err != nil {
		return err
	}
	defer db.Close()
	journal := storage.NewSQLJournal(db, []byte(*treeIdPtr))

	var eng merkle.StorageEngine
	var checkpoints indexer.Checkpointer
	switch *storePtr {
	case "memory":
		eng = merkle.NewInMemoryStorageEngine()
	case "leveldb":
		leng, err := storage.OpenLevelNodeEngine(*levelDBPtr, []byte(*treeIdPtr), *cachePtr)
		if err != nil {
			return err
		}
		defer leng.Close()
		eng = leng
	case "sql":
		eng = storage.NewMerkleStorageEngine(db, []byte(*treeIdPtr))
	default:
		return fmt.Errorf("unknown store %q", *storePtr)
	}
	// Only a persistent tree can resume from a checkpoint.
	if *storePtr != "memory" {
		checkpoints = journal
	}

	tree, err := merkle.NewSparseTree(cfg, eng)
	if err != nil {
		return err
	}
	ix, err := indexer.New(ctx, indexer.DefaultConfig(), tree, journal, checkpoints)
	if err != nil {
		return err
	}

	n, err := ix.Sync(ctx)
	if err != nil {
		return err
	}
	ctx.Info("applied %d events", n)

	if *watchPtr > 0 {
		if err := ix.Run(ctx, *watchPtr); err != nil && sigCtx.Err() == nil {
			return err
		}
		ctx = logger.NewContext(context.Background(), l)
	}

	root, err := ix.Root(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("root: %s\n", field.Hex(root))
	if latest, ok := ix.Latest(); ok {
		fmt.Printf("latest recorded: %s epoch %d at %s\n", field.Hex(&latest.Root), latest.Epoch,
			time.Unix(int64(latest.Timestamp), 0).UTC().Format(time.RFC3339))
	}

	if *proofPtr > 0 {
		p, err := ix.Proof(ctx, *proofPtr)
		if err != nil {
			return err
		}
		fmt.Printf("account %d (leaf %d) commitment %s valid=%v\n", p.AccountIndex, p.TreeIndex,
			field.Hex(p.Commitment), p.Valid)
		for i, s := range p.Siblings {
			fmt.Printf("  sibling[%d] %s\n", i, field.Hex(s))
		}
	}

	if *statsPtr {
		js, err := journal.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Print(spew.Sdump(ix.Stats(), js))
	}
	return nil
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
