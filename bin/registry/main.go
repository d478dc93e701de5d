package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/registry"
	"github.com/mvkdcrypto/rpregistry/storage"
	"github.com/pkg/errors"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const usage = `commands:
  add <commitment>
  batch <commitment>...
  update <account> <old> <new> <sibling,sibling,...>
  remove <account> <commitment> <sibling,sibling,...>
  window <seconds>
  root | info
  valid <root>
  zero <level>
  verify <root> <leaf> <index> <sibling,sibling,...>`

func parseSiblings(s string) ([]*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	var ret []*uint256.Int
	for _, tok := range strings.Split(s, ",") {
		x, err := field.Parse(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		ret = append(ret, x)
	}
	return ret, nil
}

func parseAll(args []string) ([]*uint256.Int, error) {
	ret := make([]*uint256.Int, len(args))
	for i, a := range args {
		x, err := field.Parse(a)
		if err != nil {
			return nil, err
		}
		ret[i] = x
	}
	return ret, nil
}

func needArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d\n%s", n, len(args), usage)
	}
	return nil
}

// run executes one command and reports whether it changed the registry.
func run(ctx logger.ContextInterface, g *registry.Guard, caller string, cmd string, args []string) (bool, error) {
	switch cmd {
	case "add":
		if err := needArgs(args, 1); err != nil {
			return false, err
		}
		c, err := field.Parse(args[0])
		if err != nil {
			return false, err
		}
		idx, err := g.AddOne(ctx, caller, c)
		if err != nil {
			return false, err
		}
		fmt.Printf("account %d\n", idx)
		return true, nil
	case "batch":
		cs, err := parseAll(args)
		if err != nil {
			return false, err
		}
		first, err := g.AddBatch(ctx, caller, cs)
		if err != nil {
			return false, err
		}
		fmt.Printf("accounts %d..%d\n", first, first+uint64(len(cs))-1)
		return true, nil
	case "update", "remove":
		n := 4
		if cmd == "remove" {
			n = 3
		}
		if err := needArgs(args, n); err != nil {
			return false, err
		}
		idx, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return false, errors.Wrap(err, "bad account index")
		}
		vals, err := parseAll(args[1 : n-1])
		if err != nil {
			return false, err
		}
		sibs, err := parseSiblings(args[n-1])
		if err != nil {
			return false, err
		}
		if cmd == "update" {
			err = g.Update(ctx, caller, idx, vals[0], vals[1], sibs)
		} else {
			err = g.Remove(ctx, caller, idx, vals[0], sibs)
		}
		if err != nil {
			return false, err
		}
		fmt.Println(field.Hex(g.Root()))
		return true, nil
	case "window":
		if err := needArgs(args, 1); err != nil {
			return false, err
		}
		secs, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return false, errors.Wrap(err, "bad window")
		}
		return true, g.SetRootValidityWindow(ctx, caller, secs)
	case "root":
		fmt.Println(field.Hex(g.Root()))
		return false, nil
	case "info":
		fmt.Printf("root:           %s\n", field.Hex(g.Root()))
		fmt.Printf("depth:          %d\n", g.Depth())
		fmt.Printf("leaves:         %d\n", g.NumberOfLeaves())
		fmt.Printf("total accounts: %d\n", g.TotalAccounts())
		return false, nil
	case "valid":
		if err := needArgs(args, 1); err != nil {
			return false, err
		}
		root, err := field.Parse(args[0])
		if err != nil {
			return false, err
		}
		fmt.Println(g.IsValidRoot(root))
		return false, nil
	case "zero":
		if err := needArgs(args, 1); err != nil {
			return false, err
		}
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return false, errors.Wrap(err, "bad level")
		}
		z, err := g.ZeroValue(level)
		if err != nil {
			return false, err
		}
		fmt.Println(field.Hex(z))
		return false, nil
	case "verify":
		if err := needArgs(args, 4); err != nil {
			return false, err
		}
		vals, err := parseAll(args[:2])
		if err != nil {
			return false, err
		}
		index, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return false, errors.Wrap(err, "bad index")
		}
		sibs, err := parseSiblings(args[3])
		if err != nil {
			return false, err
		}
		ok, err := g.VerifyProofStateless(vals[0], vals[1], sibs, index, len(sibs))
		if err != nil {
			return false, err
		}
		fmt.Println(ok)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func loadConfig(path string, depth int, hasherName string, window uint64, owner string) (registry.Config, error) {
	if path == "" {
		return registry.NewConfig(depth, hasherName, window, owner)
	}
	cfg, err := registry.LoadConfigFile(path)
	if err != nil {
		return registry.Config{}, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "depth":
			cfg.Depth = depth
		case "hasher":
			cfg.HasherName = hasherName
		case "window":
			cfg.RootValidityWindow = window
		case "owner":
			cfg.Owner = owner
		}
	})
	return registry.NewConfig(cfg.Depth, cfg.HasherName, cfg.RootValidityWindow, cfg.Owner)
}

func mainInner() error {
	configPtr := flag.String("config", "", "toml config file; flags given explicitly override it")
	driverPtr := flag.String("driver", "sqlite3", "sqlite3 or postgres")
	dsnPtr := flag.String("dsn", "file:registry.db", "database to journal into")
	treeIdPtr := flag.String("treeId", "registry", "tree id")
	depthPtr := flag.Int("depth", merkle.DefaultDepth, "tree depth")
	hasherPtr := flag.String("hasher", field.Poseidon2Name, "poseidon2 or keccak")
	windowPtr := flag.Uint64("window", registry.DefaultRootValidityWindow, "initial root validity window in seconds")
	ownerPtr := flag.String("owner", "", "caller allowed to mutate the registry")
	callerPtr := flag.String("caller", "", "identity of this caller")
	resetPtr := flag.Bool("reset", false, "drop and recreate the journal and node tables first")
	debugPtr := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		return fmt.Errorf("need a command\n%s", usage)
	}

	l := logger.NewStandard("registry")
	l.Configure(*debugPtr)
	ctx := logger.NewContext(context.TODO(), l)

	cfg, err := loadConfig(*configPtr, *depthPtr, *hasherPtr, *windowPtr, *ownerPtr)
	if err != nil {
		return err
	}

	db, err := sqlx.Connect(*driverPtr, *dsnPtr)
	if err != nil {
		return err
	}
	defer db.Close()
	journal := storage.NewSQLJournal(db, []byte(*treeIdPtr))
	if *resetPtr {
		ctx.Warning("resetting journal tables")
		if err := journal.Reset(); err != nil {
			return err
		}
		if err := storage.NewMerkleStorageEngine(db, []byte(*treeIdPtr)).Reset(); err != nil {
			return err
		}
	}

	snap, snapSeq, found, err := journal.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	lastSeq, err := journal.LastSeq(ctx)
	if err != nil {
		return err
	}
	var state *registry.State
	if found {
		if snapSeq != lastSeq {
			return fmt.Errorf("snapshot is at event %d but the journal is at %d", snapSeq, lastSeq)
		}
		state, err = registry.Restore(cfg, snap, nil, journal)
	} else {
		if lastSeq != 0 {
			return fmt.Errorf("journal has %d events but no snapshot", lastSeq)
		}
		state, err = registry.NewState(cfg, nil, journal)
	}
	if err != nil {
		return err
	}

	g := registry.NewGuard(state, nil)
	changed, err := run(ctx, g, *callerPtr, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	seq, err := journal.LastSeq(ctx)
	if err != nil {
		return err
	}
	return journal.SaveSnapshot(ctx, seq, g.Snapshot())
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
