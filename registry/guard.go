package registry

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/mvkdcrypto/rpregistry/logger"
	"github.com/mvkdcrypto/rpregistry/merkle"
)

// Op names a guarded registry operation.
type Op string

const (
	OpAddOne                Op = "addOne"
	OpAddBatch              Op = "addBatch"
	OpUpdate                Op = "update"
	OpRemove                Op = "remove"
	OpSetRootValidityWindow Op = "setRootValidityWindow"
)

// Authorizer decides whether caller may run op.
type Authorizer interface {
	Authorize(caller string, op Op) error
}

// OwnerAuthorizer lets a single caller run every guarded operation.
type OwnerAuthorizer struct {
	Owner string
}

func (a OwnerAuthorizer) Authorize(caller string, op Op) error {
	if a.Owner == "" || caller != a.Owner {
		return NewUnauthorizedError(caller, op)
	}
	return nil
}

// Guard is the boundary external callers go through. It checks every
// mutator against its Authorizer and serializes all calls, so a Guard can
// be shared between goroutines. Reads need no authorization.
type Guard struct {
	sync.Mutex
	state *State
	auth  Authorizer
}

func NewGuard(state *State, auth Authorizer) *Guard {
	if auth == nil {
		auth = OwnerAuthorizer{Owner: state.Config().Owner}
	}
	return &Guard{state: state, auth: auth}
}

func (g *Guard) AddOne(ctx logger.ContextInterface, caller string, commitment *uint256.Int) (uint64, error) {
	if err := g.auth.Authorize(caller, OpAddOne); err != nil {
		return 0, err
	}
	g.Lock()
	defer g.Unlock()
	return g.state.AddOne(ctx, commitment)
}

func (g *Guard) AddBatch(ctx logger.ContextInterface, caller string, commitments []*uint256.Int) (uint64, error) {
	if err := g.auth.Authorize(caller, OpAddBatch); err != nil {
		return 0, err
	}
	g.Lock()
	defer g.Unlock()
	return g.state.AddBatch(ctx, commitments)
}

func (g *Guard) Update(ctx logger.ContextInterface, caller string, accountIndex uint64,
	oldCommitment, newCommitment *uint256.Int, siblings []*uint256.Int) error {
	if err := g.auth.Authorize(caller, OpUpdate); err != nil {
		return err
	}
	g.Lock()
	defer g.Unlock()
	return g.state.Update(ctx, accountIndex, oldCommitment, newCommitment, siblings)
}

func (g *Guard) Remove(ctx logger.ContextInterface, caller string, accountIndex uint64,
	commitment *uint256.Int, siblings []*uint256.Int) error {
	if err := g.auth.Authorize(caller, OpRemove); err != nil {
		return err
	}
	g.Lock()
	defer g.Unlock()
	return g.state.Remove(ctx, accountIndex, commitment, siblings)
}

func (g *Guard) SetRootValidityWindow(ctx logger.ContextInterface, caller string, seconds uint64) error {
	if err := g.auth.Authorize(caller, OpSetRootValidityWindow); err != nil {
		return err
	}
	g.Lock()
	defer g.Unlock()
	return g.state.SetRootValidityWindow(ctx, seconds)
}

func (g *Guard) Root() *uint256.Int {
	g.Lock()
	defer g.Unlock()
	return g.state.Root()
}

func (g *Guard) Depth() int {
	return g.state.Depth()
}

func (g *Guard) TotalAccounts() uint64 {
	g.Lock()
	defer g.Unlock()
	return g.state.TotalAccounts()
}

func (g *Guard) NumberOfLeaves() uint64 {
	g.Lock()
	defer g.Unlock()
	return g.state.NumberOfLeaves()
}

func (g *Guard) ZeroValue(level int) (*uint256.Int, error) {
	return g.state.ZeroValue(level)
}

func (g *Guard) IsValidRoot(root *uint256.Int) bool {
	g.Lock()
	defer g.Unlock()
	return g.state.IsValidRoot(root)
}

func (g *Guard) LookupRoot(root *uint256.Int) (merkle.RootRecord, bool) {
	g.Lock()
	defer g.Unlock()
	return g.state.LookupRoot(root)
}

func (g *Guard) VerifyProofStateless(root, leaf *uint256.Int, siblings []*uint256.Int, index uint64, depth int) (bool, error) {
	return g.state.VerifyProofStateless(root, leaf, siblings, index, depth)
}

// Snapshot takes a consistent snapshot of the guarded state.
func (g *Guard) Snapshot() Snapshot {
	g.Lock()
	defer g.Unlock()
	return g.state.Snapshot()
}
