package common

import (
	"math/big"
	"time"
)

// TxType is the type of a mempool transaction
type TxType string

const (
	// TxTypeTransfer moves balance between two L2 accounts.  The
	// reconciler also enqueues zero-amount self-transfers to force a root
	// update after an L1 deposit.
	TxTypeTransfer TxType = "TRANSFER"
	// TxTypeDeposit credits an L2 account from an L1 deposit
	TxTypeDeposit TxType = "DEPOSIT"
	// TxTypeWithdrawal burns L2 balance and releases it on L1 to ToEthAddr
	TxTypeWithdrawal TxType = "WITHDRAWAL"
)

// TxStatus is the lifecycle status of a mempool transaction.  Transitions
// are one-directional: PENDING -> PROCESSED -> ON_CHAIN.
type TxStatus string

const (
	// TxStatusPending marks a transaction waiting to be claimed
	TxStatusPending TxStatus = "PENDING"
	// TxStatusProcessed marks a transaction proven and submitted
	TxStatusProcessed TxStatus = "PROCESSED"
	// TxStatusOnChain marks a transaction settled by a confirmed L1 batch
	TxStatusOnChain TxStatus = "ON_CHAIN"
)

// WithdrawalBurnIdx is the destination index used to mark withdrawals.
// There is no schema field for the burn target; to_idx = 0 by convention.
const WithdrawalBurnIdx Idx = 0

// Tx is a row of the durable mempool.  ID is assigned by the store and
// defines the FIFO processing order.
type Tx struct {
	ID        int64     `meddler:"id,pk" json:"id"`
	FromIdx   Idx       `meddler:"from_idx" json:"from_index"`
	ToIdx     Idx       `meddler:"to_idx" json:"to_index"`
	Amount    *big.Int  `meddler:"amount,bigint" json:"amount"`
	Type      TxType    `meddler:"tx_type" json:"type"`
	Status    TxStatus  `meddler:"status" json:"status"`
	Proof     *string   `meddler:"proof" json:"proof,omitempty"`
	ToEthAddr *string   `meddler:"to_address" json:"to_address,omitempty"`
	CreatedAt time.Time `meddler:"created_at,utctime" json:"created_at"`
}

// IsWithdrawal reports whether the transaction releases funds on L1
func (tx *Tx) IsWithdrawal() bool {
	return tx.Type == TxTypeWithdrawal
}
