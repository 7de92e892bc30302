package l2db

import (
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/database"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var l2DB *L2DB
var l2DBWithACC *L2DB

// WipeDB redo all the migrations, effectively recreating the original
// state
func WipeDB(db *sqlx.DB) {
	if err := database.MigrationsDown(db.DB, 0); err != nil {
		panic(err)
	}
	if err := database.MigrationsUp(db.DB); err != nil {
		panic(err)
	}
}

func TestMain(m *testing.M) {
	db, err := database.InitTestSQLDB()
	if err != nil {
		fmt.Println("no test database available, skipping:", err)
		os.Exit(0)
	}
	l2DB = NewL2DB(db, db, nil)
	apiConnCon := database.NewAPIConnectionController(1, time.Second)
	l2DBWithACC = NewL2DB(db, db, apiConnCon)
	WipeDB(l2DB.DB())
	result := m.Run()
	if err := db.Close(); err != nil {
		fmt.Println("error closing the DB:", err)
	}
	os.Exit(result)
}

func TestAddTx(t *testing.T) {
	WipeDB(l2DB.DB())
	id1, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(25))
	require.NoError(t, err)
	id2, err := l2DB.AddTx(common.TxTypeTransfer, 2, 1, big.NewInt(5))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	tx, err := l2DB.GetTx(id1)
	require.NoError(t, err)
	assert.Equal(t, common.Idx(1), tx.FromIdx)
	assert.Equal(t, common.Idx(2), tx.ToIdx)
	assert.Equal(t, 0, big.NewInt(25).Cmp(tx.Amount))
	assert.Equal(t, common.TxTypeTransfer, tx.Type)
	assert.Equal(t, common.TxStatusPending, tx.Status)
	assert.Nil(t, tx.Proof)
	assert.Nil(t, tx.ToEthAddr)
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestClaimLifecycle(t *testing.T) {
	WipeDB(l2DB.DB())
	id1, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(25))
	require.NoError(t, err)
	id2, err := l2DB.AddTx(common.TxTypeTransfer, 2, 1, big.NewInt(5))
	require.NoError(t, err)

	// FIFO: the oldest id is claimed first
	txn, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	claimed, err := l2DB.ClaimNextPending(txn)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id1, claimed.ID)
	require.NoError(t, l2DB.MarkProcessed(txn, claimed.ID))
	require.NoError(t, txn.Commit())

	require.NoError(t, l2DB.MarkOnChain(id1, `{"pi_a":null}`))
	tx, err := l2DB.GetTx(id1)
	require.NoError(t, err)
	assert.Equal(t, common.TxStatusOnChain, tx.Status)
	require.NotNil(t, tx.Proof)
	assert.Equal(t, `{"pi_a":null}`, *tx.Proof)

	// the next claim sees the next id
	txn, err = l2DB.DB().Beginx()
	require.NoError(t, err)
	claimed, err = l2DB.ClaimNextPending(txn)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id2, claimed.ID)
	require.NoError(t, txn.Rollback())
}

func TestClaimEmptyMempool(t *testing.T) {
	WipeDB(l2DB.DB())
	txn, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	claimed, err := l2DB.ClaimNextPending(txn)
	require.NoError(t, err)
	assert.Nil(t, claimed)
	require.NoError(t, txn.Rollback())
}

func TestClaimSkipLocked(t *testing.T) {
	WipeDB(l2DB.DB())
	id1, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(1))
	require.NoError(t, err)
	id2, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(2))
	require.NoError(t, err)

	txn1, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	defer func() { _ = txn1.Rollback() }()
	claimed1, err := l2DB.ClaimNextPending(txn1)
	require.NoError(t, err)
	require.NotNil(t, claimed1)
	assert.Equal(t, id1, claimed1.ID)

	// a concurrent claimant skips the locked row instead of blocking
	txn2, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	defer func() { _ = txn2.Rollback() }()
	claimed2, err := l2DB.ClaimNextPending(txn2)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, id2, claimed2.ID)
}

func TestMarkWithdrawal(t *testing.T) {
	WipeDB(l2DB.DB())
	id, err := l2DB.AddTx(common.TxTypeTransfer, 3, common.WithdrawalBurnIdx,
		big.NewInt(30))
	require.NoError(t, err)
	require.NoError(t, l2DB.MarkWithdrawal(id, "0xABC"))

	tx, err := l2DB.GetTx(id)
	require.NoError(t, err)
	assert.Equal(t, common.TxTypeWithdrawal, tx.Type)
	assert.Equal(t, common.WithdrawalBurnIdx, tx.ToIdx)
	require.NotNil(t, tx.ToEthAddr)
	assert.Equal(t, "0xABC", *tx.ToEthAddr)
}

func TestStatusTransitionsAreGuarded(t *testing.T) {
	WipeDB(l2DB.DB())
	id, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(1))
	require.NoError(t, err)

	// ON_CHAIN requires PROCESSED
	err = l2DB.MarkOnChain(id, "{}")
	assert.ErrorIs(t, common.Unwrap(err), common.ErrTxStatusConflict)

	txn, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	require.NoError(t, l2DB.MarkProcessed(txn, id))
	// a second advance of the same row conflicts
	err = l2DB.MarkProcessed(txn, id)
	assert.ErrorIs(t, common.Unwrap(err), common.ErrTxStatusConflict)
	require.NoError(t, txn.Commit())

	// rewriting a non-PENDING row as a withdrawal conflicts
	err = l2DB.MarkWithdrawal(id, "0xABC")
	assert.ErrorIs(t, common.Unwrap(err), common.ErrTxStatusConflict)
}

func TestStuckProcessed(t *testing.T) {
	WipeDB(l2DB.DB())
	id, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(1))
	require.NoError(t, err)

	txn, err := l2DB.DB().Beginx()
	require.NoError(t, err)
	require.NoError(t, l2DB.MarkProcessed(txn, id))
	require.NoError(t, txn.Commit())

	txn, err = l2DB.DB().Beginx()
	require.NoError(t, err)
	stuck, err := l2DB.StuckProcessed(txn)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, id, stuck[0].ID)
	require.NoError(t, l2DB.DemoteToPending(txn, id))
	require.NoError(t, txn.Commit())

	tx, err := l2DB.GetTx(id)
	require.NoError(t, err)
	assert.Equal(t, common.TxStatusPending, tx.Status)

	// a row settled with a proof is never stuck
	txn, err = l2DB.DB().Beginx()
	require.NoError(t, err)
	claimed, err := l2DB.ClaimNextPending(txn)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, l2DB.MarkProcessed(txn, claimed.ID))
	require.NoError(t, txn.Commit())
	require.NoError(t, l2DB.MarkOnChain(id, "{}"))

	txn, err = l2DB.DB().Beginx()
	require.NoError(t, err)
	stuck, err = l2DB.StuckProcessed(txn)
	require.NoError(t, err)
	assert.Empty(t, stuck)
	require.NoError(t, txn.Rollback())
}

func TestRecentTxsAndPendingCount(t *testing.T) {
	WipeDB(l2DB.DB())
	for i := 0; i < 25; i++ {
		_, err := l2DB.AddTx(common.TxTypeTransfer, 1, 2, big.NewInt(int64(i)))
		require.NoError(t, err)
	}
	txs, err := l2DBWithACC.GetRecentTxsAPI(20)
	require.NoError(t, err)
	require.Len(t, txs, 20)
	// newest first
	assert.Greater(t, txs[0].ID, txs[1].ID)
	assert.Equal(t, 0, big.NewInt(24).Cmp(txs[0].Amount))

	n, err := l2DB.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)
}
