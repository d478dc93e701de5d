package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/mvkdcrypto/rpregistry/storage"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

type sizesflag struct {
	xs []int
}

func (s *sizesflag) String() string {
	return fmt.Sprintf("%v", s.xs)
}

func (s *sizesflag) Set(value string) error {
	for _, tok := range strings.Split(value, ",") {
		var n int
		if _, err := fmt.Sscanf(tok, "%d", &n); err != nil {
			return errors.Wrapf(err, "bad size %q", tok)
		}
		s.xs = append(s.xs, n)
	}
	return nil
}

func toMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

type insertResult struct {
	N      int
	Single time.Duration
	Batch  time.Duration
}

func experimentInsert(cfg merkle.Config, leaves []*uint256.Int) (insertResult, error) {
	t, err := merkle.NewTree(cfg)
	if err != nil {
		return insertResult{}, err
	}

	st := t.Init()
	start := time.Now()
	for _, l := range leaves {
		if _, err := t.Insert(&st, l); err != nil {
			return insertResult{}, err
		}
	}
	single := time.Since(start)

	batchSt := t.Init()
	start = time.Now()
	if _, err := t.InsertMany(&batchSt, leaves); err != nil {
		return insertResult{}, err
	}
	batch := time.Since(start)

	if !st.Equal(batchSt) {
		return insertResult{}, fmt.Errorf("single and batch insertion disagree")
	}
	return insertResult{N: len(leaves), Single: single, Batch: batch}, nil
}

type buildResult struct {
	N        int
	Set      time.Duration
	Build    time.Duration
	Proof    time.Duration
	Verify   time.Duration
	Nodes    int
	CacheHit int64
}

func newLevelEngine() (*storage.LevelNodeEngine, error) {
	db, err := leveldb.Open(lstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return storage.NewLevelNodeEngine(db, []byte("experiments"), 0)
}

func experimentBuild(ctx logger.ContextInterface, cfg merkle.Config, leaves []*uint256.Int) (buildResult, error) {
	setEng, err := newLevelEngine()
	if err != nil {
		return buildResult{}, err
	}
	defer setEng.Close()
	setTree, err := merkle.NewSparseTree(cfg, setEng)
	if err != nil {
		return buildResult{}, err
	}
	start := time.Now()
	for i, l := range leaves {
		if err := setTree.Set(ctx, uint64(i), l); err != nil {
			return buildResult{}, err
		}
	}
	set := time.Since(start)

	buildEng, err := newLevelEngine()
	if err != nil {
		return buildResult{}, err
	}
	defer buildEng.Close()
	buildTree, err := merkle.NewSparseTree(cfg, buildEng)
	if err != nil {
		return buildResult{}, err
	}
	start = time.Now()
	if err := buildTree.Build(ctx, leaves); err != nil {
		return buildResult{}, err
	}
	build := time.Since(start)

	r1, err := setTree.Root(ctx)
	if err != nil {
		return buildResult{}, err
	}
	r2, err := buildTree.Root(ctx)
	if err != nil {
		return buildResult{}, err
	}
	if !r1.Eq(r2) {
		return buildResult{}, fmt.Errorf("Set and Build disagree on the root")
	}

	start = time.Now()
	proofs := make([]merkle.MerkleInclusionProof, len(leaves))
	for i := range leaves {
		if proofs[i], err = buildTree.Proof(ctx, uint64(i)); err != nil {
			return buildResult{}, err
		}
	}
	proof := time.Since(start)

	start = time.Now()
	for _, p := range proofs {
		ok, err := merkle.VerifyProof(cfg.Hasher, p.Root, p.Leaf, p.Siblings, p.Index, cfg.Depth)
		if err != nil {
			return buildResult{}, err
		}
		if !ok {
			return buildResult{}, fmt.Errorf("proof of leaf %d does not verify", p.Index)
		}
	}
	verify := time.Since(start)

	nodes, err := buildEng.Len()
	if err != nil {
		return buildResult{}, err
	}
	return buildResult{
		N:        len(leaves),
		Set:      set,
		Build:    build,
		Proof:    proof,
		Verify:   verify,
		Nodes:    nodes,
		CacheHit: buildEng.TotalCacheHits.Load(),
	}, nil
}

func mainInner() error {
	var sizes sizesflag
	flag.Var(&sizes, "n", "comma separated numbers of leaves")
	expPtr := flag.String("exp", "insert", "insert, build")
	depthPtr := flag.Int("depth", merkle.DefaultDepth, "tree depth")
	hasherPtr := flag.String("hasher", field.Poseidon2Name, "poseidon2 or keccak")
	verbosePtr := flag.Bool("v", false, "dump every result")
	cpuProfilePtr := flag.String("cpuprofile", "", "cpu profile file")
	flag.Parse()

	if *cpuProfilePtr != "" {
		f, err := os.Create(*cpuProfilePtr)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx := logger.NewContext(context.TODO(), logger.NewNull())

	if len(sizes.xs) == 0 {
		sizes.xs = []int{1 << 10, 1 << 12, 1 << 14}
	}
	h, err := field.NewHasher(*hasherPtr)
	if err != nil {
		return err
	}
	cfg, err := merkle.NewConfig(h, *depthPtr)
	if err != nil {
		return err
	}

	switch *expPtr {
	case "insert":
		tikzs := []string{
			`\addplot plot coordinates {`,
			`\addplot plot coordinates {`,
		}
		for _, n := range sizes.xs {
			leaves, err := merkle.RandomCommitments(n)
			if err != nil {
				return err
			}
			fmt.Printf("Experiment: +Insert(%d)\n", n)
			ret, err := experimentInsert(cfg, leaves)
			if err != nil {
				return err
			}
			fmt.Printf("Experiment: -Insert(%d)\n", n)
			if *verbosePtr {
				fmt.Print(spew.Sdump(ret))
			}
			tikzs[0] += fmt.Sprintf("(%d,%f)", n, toMs(ret.Single))
			tikzs[1] += fmt.Sprintf("(%d,%f)", n, toMs(ret.Batch))
		}
		fmt.Printf("\n%s};\n%s};\n", tikzs[0], tikzs[1])
	case "build":
		tikzs := []string{
			`\addplot plot coordinates {`,
			`\addplot plot coordinates {`,
			`\addplot plot coordinates {`,
		}
		for _, n := range sizes.xs {
			leaves, err := merkle.RandomCommitments(n)
			if err != nil {
				return err
			}
			fmt.Printf("Experiment: +Build(%d)\n", n)
			ret, err := experimentBuild(ctx, cfg, leaves)
			if err != nil {
				return err
			}
			fmt.Printf("Experiment: -Build(%d)\n", n)
			if *verbosePtr {
				fmt.Print(spew.Sdump(ret))
			}
			tikzs[0] += fmt.Sprintf("(%d,%f)", n, toMs(ret.Set))
			tikzs[1] += fmt.Sprintf("(%d,%f)", n, toMs(ret.Build))
			tikzs[2] += fmt.Sprintf("(%d,%f)", n, toMs(ret.Proof+ret.Verify))
		}
		fmt.Printf("\n%s};\n%s};\n%s};\n", tikzs[0], tikzs[1], tikzs[2])
	default:
		return fmt.Errorf("unknown experiment %s", *expPtr)
	}
	return nil
}

func main() {
	err := mainInner()
	if err != nil {
		panic(errors.Wrap(err, "experiment").Error())
	}
}
