/*
Package l2db is the durable mempool.  Transactions enter with status
PENDING through AddTx, are claimed by the coordinator in FIFO id order
under a row-level exclusive lock, and advance one-directionally through
PROCESSED to ON_CHAIN.

ClaimNextPending runs inside a caller-owned *sqlx.Tx: the claim, the
balance moves and the PROCESSED advance commit or roll back together, so
a failed prove cycle leaves the row PENDING with no side effects.
*/
package l2db

import (
	"database/sql"
	"errors"
	"math/big"

	"zkrollup-node/common"
	"zkrollup-node/database"

	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

const selectTx = `SELECT id, from_idx, to_idx, amount, tx_type, status,
proof, to_address, created_at FROM transactions `

// L2DB stores the mempool transactions
type L2DB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
}

// NewL2DB creates an L2DB.  apiConnCon may be nil when the instance does
// not serve API queries.
func NewL2DB(dbRead, dbWrite *sqlx.DB,
	apiConnCon *database.APIConnectionController) *L2DB {
	return &L2DB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
	}
}

// DB returns the write handle, used by the coordinator to open the claim
// transaction
func (l2db *L2DB) DB() *sqlx.DB {
	return l2db.dbWrite
}

// AddTx appends a transaction with status PENDING and returns the
// assigned id.  No balance or signature validation happens here; the
// coordinator validates at claim time.
func (l2db *L2DB) AddTx(txType common.TxType, fromIdx, toIdx common.Idx,
	amount *big.Int) (int64, error) {
	var id int64
	err := l2db.dbWrite.QueryRow(
		`INSERT INTO transactions (from_idx, to_idx, amount, tx_type, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id;`,
		fromIdx, toIdx, amount.String(), txType, common.TxStatusPending,
	).Scan(&id)
	if err != nil {
		return 0, common.Wrap(err)
	}
	return id, nil
}

// MarkWithdrawal rewrites an enqueued transfer as a withdrawal to the
// given L1 receiver, keeping the burn convention to_idx = 0
func (l2db *L2DB) MarkWithdrawal(id int64, receiver string) error {
	res, err := l2db.dbWrite.Exec(
		`UPDATE transactions SET tx_type = $1, to_address = $2
		 WHERE id = $3 AND status = $4;`,
		common.TxTypeWithdrawal, receiver, id, common.TxStatusPending,
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrTxStatusConflict)
	}
	return nil
}

// ClaimNextPending selects the oldest PENDING transaction and locks it
// for the lifetime of txn.  SKIP LOCKED guarantees that two concurrent
// claimants never receive the same row.  Returns nil when the mempool is
// empty.
func (l2db *L2DB) ClaimNextPending(txn *sqlx.Tx) (*common.Tx, error) {
	tx := new(common.Tx)
	err := meddler.QueryRow(
		txn, tx,
		selectTx+`WHERE status = $1 ORDER BY id ASC LIMIT 1
		 FOR UPDATE SKIP LOCKED;`,
		common.TxStatusPending,
	)
	if errors.Is(common.Unwrap(err), sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Wrap(err)
	}
	return tx, nil
}

// MarkProcessed advances a claimed transaction to PROCESSED inside the
// claim transaction.  Advancing a row that is not PENDING is an invariant
// violation.
func (l2db *L2DB) MarkProcessed(txn *sqlx.Tx, id int64) error {
	res, err := txn.Exec(
		"UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3;",
		common.TxStatusProcessed, id, common.TxStatusPending,
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrTxStatusConflict)
	}
	return nil
}

// MarkOnChain advances a PROCESSED transaction to ON_CHAIN once the L1
// batch is confirmed, recording the proof that settled it
func (l2db *L2DB) MarkOnChain(id int64, proof string) error {
	res, err := l2db.dbWrite.Exec(
		`UPDATE transactions SET status = $1, proof = $2
		 WHERE id = $3 AND status = $4;`,
		common.TxStatusOnChain, proof, id, common.TxStatusProcessed,
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrTxStatusConflict)
	}
	return nil
}

// StuckProcessed returns PROCESSED rows without a proof, locked inside
// txn.  A row can only be durably PROCESSED without a proof when the node
// crashed between the L1 submission and MarkOnChain.
func (l2db *L2DB) StuckProcessed(txn *sqlx.Tx) ([]common.Tx, error) {
	var txs []*common.Tx
	err := meddler.QueryAll(
		txn, &txs,
		selectTx+`WHERE status = $1 AND proof IS NULL
		 ORDER BY id ASC FOR UPDATE;`,
		common.TxStatusProcessed,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	out := make([]common.Tx, len(txs))
	for i := range txs {
		out[i] = *txs[i]
	}
	return out, nil
}

// DemoteToPending moves a PROCESSED row back to PENDING inside txn.  The
// caller must revert the balance moves of the row in the same txn or the
// retry would apply them twice.
func (l2db *L2DB) DemoteToPending(txn *sqlx.Tx, id int64) error {
	res, err := txn.Exec(
		"UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3;",
		common.TxStatusPending, id, common.TxStatusProcessed,
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrTxStatusConflict)
	}
	return nil
}

// GetTx returns the transaction with the given id
func (l2db *L2DB) GetTx(id int64) (*common.Tx, error) {
	tx := new(common.Tx)
	err := meddler.QueryRow(l2db.dbRead, tx, selectTx+"WHERE id = $1;", id)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return tx, nil
}

// GetTxAPI is GetTx limited by the API connection controller
func (l2db *L2DB) GetTxAPI(id int64) (*common.Tx, error) {
	cancel, err := l2db.apiConnCon.Acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer cancel()
	defer l2db.apiConnCon.Release()
	return l2db.GetTx(id)
}

// GetRecentTxsAPI returns the last `limit` transactions, newest first,
// for the explorer endpoint
func (l2db *L2DB) GetRecentTxsAPI(limit uint) ([]common.Tx, error) {
	cancel, err := l2db.apiConnCon.Acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer cancel()
	defer l2db.apiConnCon.Release()
	var txs []*common.Tx
	err = meddler.QueryAll(
		l2db.dbRead, &txs,
		selectTx+"ORDER BY id DESC LIMIT $1;", limit,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	out := make([]common.Tx, len(txs))
	for i := range txs {
		out[i] = *txs[i]
	}
	return out, nil
}

// PendingCount returns the number of PENDING transactions, exported as a
// mempool depth gauge
func (l2db *L2DB) PendingCount() (int64, error) {
	var n int64
	err := l2db.dbRead.QueryRow(
		"SELECT COUNT(*) FROM transactions WHERE status = $1;",
		common.TxStatusPending,
	).Scan(&n)
	return n, common.Wrap(err)
}
