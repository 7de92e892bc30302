package statedb

import (
	"math/big"

	"zkrollup-node/common"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxDepth bounds the tree depth.  2^32 leaves is already beyond any
// realistic account count for this design, which recomputes the full
// tree on every root and proof.
const MaxDepth = 32

// CircuitInput is the witness handed to the proof server for one state
// transition: the claimed leaf and its Merkle path.  PathIndices[k] is 1
// when the tracked node is a right child at level k, 0 when it is a left
// child.
type CircuitInput struct {
	Leaf         *big.Int   `json:"leaf"`
	PathElements []*big.Int `json:"pathElements"`
	PathIndices  []uint8    `json:"pathIndices"`
}

// AccountTree is a fixed-depth poseidon Merkle accumulator over account
// leaves.  Empty slots contribute the level-0 zero hash.  The root is a
// pure function of the final leaf mapping: insertion order never matters.
//
// Root and GenerateProof recompute the whole tree bottom-up instead of
// caching internal nodes.  That costs O(2^depth) work per call but
// removes cache-invalidation bugs from a structure whose corruption is a
// silent break of the on-chain commitment.
type AccountTree struct {
	depth  int
	leaves map[uint64]*big.Int
	zeros  []*big.Int
}

// NewAccountTree precomputes the zero-hash table for the given depth:
// zeros[0] = 0 and zeros[k] = H(zeros[k-1], zeros[k-1]).
func NewAccountTree(depth int) (*AccountTree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, common.Wrap(common.ErrIdxOutOfRange)
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for k := 1; k <= depth; k++ {
		h, err := poseidon.Hash([]*big.Int{zeros[k-1], zeros[k-1]})
		if err != nil {
			return nil, common.Wrap(err)
		}
		zeros[k] = h
	}
	return &AccountTree{
		depth:  depth,
		leaves: make(map[uint64]*big.Int),
		zeros:  zeros,
	}, nil
}

// Depth returns the number of levels of the tree
func (t *AccountTree) Depth() int {
	return t.depth
}

// NLeaves returns the leaf capacity, 2^depth
func (t *AccountTree) NLeaves() uint64 {
	return 1 << uint(t.depth)
}

// InsertLeaf stores the leaf hash of (balance, pubkey) at idx and returns
// it.  An existing leaf at idx is overwritten; last write wins.
func (t *AccountTree) InsertLeaf(idx uint64, balance, pubkey *big.Int) (*big.Int, error) {
	if idx >= t.NLeaves() {
		return nil, common.Wrap(common.ErrIdxOutOfRange)
	}
	leaf, err := common.HashLeaf(balance, pubkey)
	if err != nil {
		return nil, common.Wrap(err)
	}
	t.leaves[idx] = leaf
	return leaf, nil
}

// level0 materializes the leaf level, filling empty slots with zeros[0]
func (t *AccountTree) level0() []*big.Int {
	nodes := make([]*big.Int, t.NLeaves())
	for i := range nodes {
		if leaf, ok := t.leaves[uint64(i)]; ok {
			nodes[i] = leaf
		} else {
			nodes[i] = t.zeros[0]
		}
	}
	return nodes
}

// hashUp collapses one level into the next
func hashUp(nodes []*big.Int) ([]*big.Int, error) {
	next := make([]*big.Int, len(nodes)/2)
	for i := 0; i < len(nodes); i += 2 {
		h, err := poseidon.Hash([]*big.Int{nodes[i], nodes[i+1]})
		if err != nil {
			return nil, common.Wrap(err)
		}
		next[i/2] = h
	}
	return next, nil
}

// Root recomputes the root from the current leaf set.  An empty tree of
// depth D yields zeros[D].
func (t *AccountTree) Root() (*big.Int, error) {
	nodes := t.level0()
	for level := 0; level < t.depth; level++ {
		next, err := hashUp(nodes)
		if err != nil {
			return nil, common.Wrap(err)
		}
		nodes = next
	}
	return nodes[0], nil
}

// GenerateProof returns the inclusion path for idx: the leaf hash (or the
// zero leaf for an empty slot), the sibling at every level and the
// direction bits.  Recombining the result with RootFromProof reproduces
// Root exactly; the external prover verifies the same relation.
func (t *AccountTree) GenerateProof(idx uint64) (*CircuitInput, error) {
	if idx >= t.NLeaves() {
		return nil, common.Wrap(common.ErrIdxOutOfRange)
	}
	input := &CircuitInput{
		PathElements: make([]*big.Int, 0, t.depth),
		PathIndices:  make([]uint8, 0, t.depth),
	}
	if leaf, ok := t.leaves[idx]; ok {
		input.Leaf = leaf
	} else {
		input.Leaf = t.zeros[0]
	}

	nodes := t.level0()
	current := idx
	for level := 0; level < t.depth; level++ {
		sibling := current ^ 1
		input.PathElements = append(input.PathElements, nodes[sibling])
		input.PathIndices = append(input.PathIndices, uint8(current&1))

		next, err := hashUp(nodes)
		if err != nil {
			return nil, common.Wrap(err)
		}
		nodes = next
		current >>= 1
	}
	return input, nil
}

// RootFromProof recombines a circuit input by repeated pairwise hashing
// according to the direction bits, yielding the root the path commits to
func RootFromProof(input *CircuitInput) (*big.Int, error) {
	node := input.Leaf
	for k := range input.PathElements {
		var pair []*big.Int
		if input.PathIndices[k] == 1 {
			pair = []*big.Int{input.PathElements[k], node}
		} else {
			pair = []*big.Int{node, input.PathElements[k]}
		}
		h, err := poseidon.Hash(pair)
		if err != nil {
			return nil, common.Wrap(err)
		}
		node = h
	}
	return node, nil
}

// Clone returns an independent copy of the tree.  The zero table is
// shared; it is immutable after construction.
func (t *AccountTree) Clone() *AccountTree {
	leaves := make(map[uint64]*big.Int, len(t.leaves))
	for idx, leaf := range t.leaves {
		leaves[idx] = leaf
	}
	return &AccountTree{
		depth:  t.depth,
		leaves: leaves,
		zeros:  t.zeros,
	}
}
