/*
Package historydb is the durable account store.  The accounts table is the
source of truth for the L2 state: the in-memory Merkle tree held by the
statedb package is always rebuilt from this table and never the other way
around.

Writes that must be atomic with a mempool claim (the balance moves applied
by the coordinator) take an explicit *sqlx.Tx, so that a failed prove or
submit cycle rolls back every account mutation together with the claim.
*/
package historydb

import (
	"database/sql"
	"errors"
	"math/big"

	"zkrollup-node/common"
	"zkrollup-node/database"

	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

// HistoryDB persists the L2 accounts
type HistoryDB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
}

// NewHistoryDB initializes the account store.  apiConnCon may be nil when
// the instance does not serve API queries.
func NewHistoryDB(dbRead, dbWrite *sqlx.DB,
	apiConnCon *database.APIConnectionController) *HistoryDB {
	return &HistoryDB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
	}
}

// DB returns the write handle.  Used by the coordinator to open the claim
// transaction and by tests.
func (hdb *HistoryDB) DB() *sqlx.DB {
	return hdb.dbWrite
}

// GetAccounts returns all the accounts ordered by idx ascending, the
// order in which the state synchronizer rebuilds the tree
func (hdb *HistoryDB) GetAccounts() ([]common.Account, error) {
	var accs []*common.Account
	err := meddler.QueryAll(
		hdb.dbRead, &accs,
		"SELECT idx, eth_addr, pubkey, balance FROM accounts ORDER BY idx ASC;",
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	out := make([]common.Account, len(accs))
	for i := range accs {
		out[i] = *accs[i]
	}
	return out, nil
}

// GetAccount returns the account with the given idx
func (hdb *HistoryDB) GetAccount(idx common.Idx) (*common.Account, error) {
	acc := new(common.Account)
	err := meddler.QueryRow(
		hdb.dbRead, acc,
		"SELECT idx, eth_addr, pubkey, balance FROM accounts WHERE idx = $1;",
		idx,
	)
	if errors.Is(common.Unwrap(err), sql.ErrNoRows) {
		return nil, common.Wrap(common.ErrAccountNotFound)
	}
	if err != nil {
		return nil, common.Wrap(err)
	}
	return acc, nil
}

// GetAccountAPI is GetAccount limited by the API connection controller
func (hdb *HistoryDB) GetAccountAPI(idx common.Idx) (*common.Account, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer cancel()
	defer hdb.apiConnCon.Release()
	return hdb.GetAccount(idx)
}

// AddAccount inserts a new account row
func (hdb *HistoryDB) AddAccount(acc *common.Account) error {
	_, err := hdb.dbWrite.Exec(
		`INSERT INTO accounts (idx, eth_addr, pubkey, balance)
		 VALUES ($1, $2, $3, $4);`,
		acc.Idx, acc.EthAddr, acc.Pubkey.String(), acc.Balance.String(),
	)
	return common.Wrap(err)
}

// ApplyDeposit credits an L1 deposit to the account with the given idx,
// creating the account when it does not exist yet.  A created account
// carries a zero pubkey commitment and the L1 sender as address.  The
// whole operation runs in one SQL transaction.
func (hdb *HistoryDB) ApplyDeposit(idx common.Idx, amount *big.Int, sender string) error {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			if errRb := txn.Rollback(); errRb != nil {
				err = common.Wrap(errors.Join(err, errRb))
			}
		}
	}()

	acc := new(common.Account)
	err = meddler.QueryRow(
		txn, acc,
		"SELECT idx, eth_addr, pubkey, balance FROM accounts WHERE idx = $1 FOR UPDATE;",
		idx,
	)
	if errors.Is(common.Unwrap(err), sql.ErrNoRows) {
		_, err = txn.Exec(
			`INSERT INTO accounts (idx, eth_addr, pubkey, balance)
			 VALUES ($1, $2, $3, $4);`,
			idx, sender, "0", amount.String(),
		)
	} else if err == nil {
		newBalance := new(big.Int).Add(acc.Balance, amount)
		_, err = txn.Exec(
			"UPDATE accounts SET balance = $1 WHERE idx = $2;",
			newBalance.String(), idx,
		)
	}
	if err != nil {
		return common.Wrap(err)
	}
	err = common.Wrap(txn.Commit())
	return err
}

// GetAccountForUpdate reads an account inside the given transaction with
// a row-level exclusive lock
func GetAccountForUpdate(txn *sqlx.Tx, idx common.Idx) (*common.Account, error) {
	acc := new(common.Account)
	err := meddler.QueryRow(
		txn, acc,
		"SELECT idx, eth_addr, pubkey, balance FROM accounts WHERE idx = $1 FOR UPDATE;",
		idx,
	)
	if errors.Is(common.Unwrap(err), sql.ErrNoRows) {
		return nil, common.Wrap(common.ErrAccountNotFound)
	}
	if err != nil {
		return nil, common.Wrap(err)
	}
	return acc, nil
}

// UpdateAccountBalance writes a new balance for idx inside the given
// transaction
func UpdateAccountBalance(txn *sqlx.Tx, idx common.Idx, balance *big.Int) error {
	res, err := txn.Exec(
		"UPDATE accounts SET balance = $1 WHERE idx = $2;",
		balance.String(), idx,
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrAccountNotFound)
	}
	return nil
}
