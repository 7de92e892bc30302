/*
Package statedb holds the in-memory Merkle state: a fixed-depth poseidon
accumulator over account leaves and the synchronizer that rebuilds it
from the durable account store.

The tree is never patched incrementally across restarts.  Sync builds a
fresh tree from the accounts table and swaps it in atomically, so readers
always observe a complete snapshot and the commitment can not drift from
the durable state.
*/
package statedb

import (
	"math/big"
	"sync/atomic"

	"zkrollup-node/common"
	"zkrollup-node/log"
)

// AccountSource is the slice of the account store the synchronizer needs
type AccountSource interface {
	GetAccounts() ([]common.Account, error)
}

// Config of the StateDB
type Config struct {
	// Depth is the number of levels of the account tree
	Depth int
}

// StateDB owns the tree snapshot.  All leaf-set mutation goes through
// Sync (full rebuild) or Publish (coordinator batch swap); readers take
// the current snapshot through Tree and never see a torn rebuild.
type StateDB struct {
	cfg      Config
	accounts AccountSource
	tree     atomic.Pointer[AccountTree]
}

// NewStateDB creates the StateDB with an empty tree of the configured
// depth.  Call Sync before serving roots.
func NewStateDB(cfg Config, accounts AccountSource) (*StateDB, error) {
	empty, err := NewAccountTree(cfg.Depth)
	if err != nil {
		return nil, common.Wrap(err)
	}
	s := &StateDB{cfg: cfg, accounts: accounts}
	s.tree.Store(empty)
	return s, nil
}

// Sync rebuilds the tree from the account store and swaps it in.  It is
// idempotent for fixed store contents and is the only path by which the
// durable state reaches the tree.
func (s *StateDB) Sync() error {
	accs, err := s.accounts.GetAccounts()
	if err != nil {
		return common.Wrap(err)
	}
	tree, err := NewAccountTree(s.cfg.Depth)
	if err != nil {
		return common.Wrap(err)
	}
	for i := range accs {
		if _, err := tree.InsertLeaf(uint64(accs[i].Idx),
			accs[i].Balance, accs[i].Pubkey); err != nil {
			return common.Wrap(err)
		}
	}
	s.tree.Store(tree)
	root, err := tree.Root()
	if err != nil {
		return common.Wrap(err)
	}
	log.Debugw("state synced", "accounts", len(accs), "root", root.String())
	return nil
}

// Tree returns the current snapshot.  The returned tree must be treated
// as read-only; mutators work on a Clone and hand it back via Publish.
func (s *StateDB) Tree() *AccountTree {
	return s.tree.Load()
}

// Publish swaps in a tree built by the coordinator after a settled batch
func (s *StateDB) Publish(t *AccountTree) {
	s.tree.Store(t)
}

// Root returns the root of the current snapshot
func (s *StateDB) Root() (*big.Int, error) {
	return s.Tree().Root()
}

// GenerateProof returns the inclusion path for idx against the current
// snapshot
func (s *StateDB) GenerateProof(idx common.Idx) (*CircuitInput, error) {
	return s.Tree().GenerateProof(uint64(idx))
}
