package common

import (
	"math/big"
	"testing"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashLeaf(t *testing.T) {
	got, err := HashLeaf(big.NewInt(100), big.NewInt(999))
	require.NoError(t, err)
	expected, err := poseidon.Hash([]*big.Int{big.NewInt(100), big.NewInt(999)})
	require.NoError(t, err)
	assert.Equal(t, 0, expected.Cmp(got))
}

func TestHashLeafRejectsInvalid(t *testing.T) {
	_, err := HashLeaf(nil, big.NewInt(1))
	assert.ErrorIs(t, Unwrap(err), ErrNotInFF)
	_, err = HashLeaf(big.NewInt(-1), big.NewInt(1))
	assert.ErrorIs(t, Unwrap(err), ErrNotInFF)
	_, err = HashLeaf(big.NewInt(1), nil)
	assert.ErrorIs(t, Unwrap(err), ErrNotInFF)
}

func TestToFieldElemReduces(t *testing.T) {
	v := new(big.Int).Add(constants.Q, big.NewInt(5))
	got, err := ToFieldElem(v)
	require.NoError(t, err)
	assert.Equal(t, 0, big.NewInt(5).Cmp(got))

	// values over the field order hash like their reduction
	a, err := HashLeaf(v, big.NewInt(1))
	require.NoError(t, err)
	b, err := HashLeaf(big.NewInt(5), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Cmp(b))
}

func TestToFieldElemCopies(t *testing.T) {
	v := big.NewInt(42)
	got, err := ToFieldElem(v)
	require.NoError(t, err)
	got.Add(got, big.NewInt(1))
	assert.Equal(t, 0, big.NewInt(42).Cmp(v))
}

func TestIdxBigInt(t *testing.T) {
	assert.Equal(t, 0, big.NewInt(7).Cmp(Idx(7).BigInt()))
	assert.Equal(t, 0, big.NewInt(0).Cmp(WithdrawalBurnIdx.BigInt()))
}

func TestTxIsWithdrawal(t *testing.T) {
	tx := Tx{Type: TxTypeWithdrawal}
	assert.True(t, tx.IsWithdrawal())
	tx.Type = TxTypeTransfer
	assert.False(t, tx.IsWithdrawal())
}
