package common

import (
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
	cryptoUtils "github.com/iden3/go-iden3-crypto/utils"
)

// Idx represents the account index, which is the position of the account
// leaf in the Merkle state tree
type Idx uint64

// BigInt returns a *big.Int representing the Idx
func (idx Idx) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(idx))
}

// Account is the set of values committed to by one leaf of the state
// tree.  The durable accounts table is the source of truth; the tree only
// holds the poseidon hash of (Balance, Pubkey).
type Account struct {
	Idx     Idx      `meddler:"idx" json:"index"`
	EthAddr string   `meddler:"eth_addr" json:"address"`
	Pubkey  *big.Int `meddler:"pubkey,bigint" json:"pubkey"`
	Balance *big.Int `meddler:"balance,bigint" json:"balance"`
}

// HashValue returns the leaf hash of the account, the poseidon hash of
// (Balance, Pubkey).  It is a pure function of those two values.
func (a *Account) HashValue() (*big.Int, error) {
	return HashLeaf(a.Balance, a.Pubkey)
}

// HashLeaf computes the leaf hash for a (balance, pubkey) pair.  Inputs
// are reduced into the finite field before hashing.
func HashLeaf(balance, pubkey *big.Int) (*big.Int, error) {
	b, err := ToFieldElem(balance)
	if err != nil {
		return nil, Wrap(err)
	}
	p, err := ToFieldElem(pubkey)
	if err != nil {
		return nil, Wrap(err)
	}
	return poseidon.Hash([]*big.Int{b, p})
}

// ToFieldElem validates v as a finite field element, reducing it mod the
// field order.  Negative values are rejected rather than reduced, since
// no committed quantity in this system is signed.
func ToFieldElem(v *big.Int) (*big.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, Wrap(ErrNotInFF)
	}
	if cryptoUtils.CheckBigIntInField(v) {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int).Mod(v, constants.Q), nil
}
