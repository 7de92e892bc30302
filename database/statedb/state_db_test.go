package statedb

import (
	"errors"
	"math/big"
	"testing"

	"zkrollup-node/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAccountSource struct {
	accs []common.Account
	err  error
}

func (m *memAccountSource) GetAccounts() ([]common.Account, error) {
	return m.accs, m.err
}

func TestSyncRebuildsTree(t *testing.T) {
	src := &memAccountSource{accs: []common.Account{
		{Idx: 0, EthAddr: "0x01", Pubkey: big.NewInt(999), Balance: big.NewInt(100)},
		{Idx: 1, EthAddr: "0x02", Pubkey: big.NewInt(888), Balance: big.NewInt(50)},
	}}
	sdb, err := NewStateDB(Config{Depth: 4}, src)
	require.NoError(t, err)
	require.NoError(t, sdb.Sync())

	expected, err := NewAccountTree(4)
	require.NoError(t, err)
	_, err = expected.InsertLeaf(0, big.NewInt(100), big.NewInt(999))
	require.NoError(t, err)
	_, err = expected.InsertLeaf(1, big.NewInt(50), big.NewInt(888))
	require.NoError(t, err)
	expectedRoot, err := expected.Root()
	require.NoError(t, err)

	root, err := sdb.Root()
	require.NoError(t, err)
	assert.Equal(t, 0, expectedRoot.Cmp(root))
}

func TestSyncReplacesSnapshot(t *testing.T) {
	src := &memAccountSource{accs: []common.Account{
		{Idx: 0, EthAddr: "0x01", Pubkey: big.NewInt(1), Balance: big.NewInt(10)},
	}}
	sdb, err := NewStateDB(Config{Depth: 4}, src)
	require.NoError(t, err)
	require.NoError(t, sdb.Sync())
	rootBefore, err := sdb.Root()
	require.NoError(t, err)

	src.accs = []common.Account{
		{Idx: 0, EthAddr: "0x01", Pubkey: big.NewInt(1), Balance: big.NewInt(510)},
	}
	require.NoError(t, sdb.Sync())
	rootAfter, err := sdb.Root()
	require.NoError(t, err)
	assert.NotEqual(t, 0, rootBefore.Cmp(rootAfter))

	// the old snapshot is fully replaced, not patched
	empty, err := NewAccountTree(4)
	require.NoError(t, err)
	_, err = empty.InsertLeaf(0, big.NewInt(510), big.NewInt(1))
	require.NoError(t, err)
	expected, err := empty.Root()
	require.NoError(t, err)
	assert.Equal(t, 0, expected.Cmp(rootAfter))
}

func TestSyncSourceError(t *testing.T) {
	boom := errors.New("store down")
	src := &memAccountSource{err: boom}
	sdb, err := NewStateDB(Config{Depth: 4}, src)
	require.NoError(t, err)
	err = sdb.Sync()
	assert.ErrorIs(t, common.Unwrap(err), boom)
}

func TestPublishSwapsSnapshot(t *testing.T) {
	src := &memAccountSource{}
	sdb, err := NewStateDB(Config{Depth: 4}, src)
	require.NoError(t, err)

	next := sdb.Tree().Clone()
	_, err = next.InsertLeaf(2, big.NewInt(5), big.NewInt(6))
	require.NoError(t, err)
	sdb.Publish(next)

	root, err := sdb.Root()
	require.NoError(t, err)
	nextRoot, err := next.Root()
	require.NoError(t, err)
	assert.Equal(t, 0, nextRoot.Cmp(root))
}

func TestGenerateProofAgainstSnapshot(t *testing.T) {
	src := &memAccountSource{accs: []common.Account{
		{Idx: 3, EthAddr: "0x03", Pubkey: big.NewInt(7), Balance: big.NewInt(30)},
	}}
	sdb, err := NewStateDB(Config{Depth: 4}, src)
	require.NoError(t, err)
	require.NoError(t, sdb.Sync())

	input, err := sdb.GenerateProof(common.Idx(3))
	require.NoError(t, err)
	root, err := sdb.Root()
	require.NoError(t, err)
	got, err := RootFromProof(input)
	require.NoError(t, err)
	assert.Equal(t, 0, root.Cmp(got))
}
