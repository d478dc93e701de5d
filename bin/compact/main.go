package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/storage"
)

func mainInner() error {
	dbPtr := flag.String("db", "", "leveldb directory")
	treeIdPtr := flag.String("treeId", "registry", "tree id")
	flag.Parse()

	if *dbPtr == "" {
		return fmt.Errorf("need --db")
	}

	ctx := logger.NewContext(context.TODO(), logger.NewStandard("compact"))

	eng, err := storage.OpenLevelNodeEngine(*dbPtr, []byte(*treeIdPtr), 0)
	if err != nil {
		return err
	}
	defer eng.Close()

	before, err := eng.Len()
	if err != nil {
		return err
	}
	err = eng.Compact()
	if err != nil {
		return err
	}
	ctx.Info("compacted %d nodes of tree %q", before, *treeIdPtr)
	return nil
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
