package common

import (
	"errors"

	"github.com/hermeznetwork/tracerr"
)

// ErrIdxOutOfRange is used when a leaf index does not fit in the
// configured tree depth (idx >= 2^depth)
var ErrIdxOutOfRange = errors.New("account index out of range for tree depth")

// ErrNotInFF is used when a *big.Int does not fit inside the finite field
var ErrNotInFF = errors.New("value not inside the finite field")

// ErrAccountNotFound is used when the destination account of a transfer
// does not exist in the account store
var ErrAccountNotFound = errors.New("account not found")

// ErrBalanceInsufficient is used when a transfer or withdrawal amount
// exceeds the sender balance
var ErrBalanceInsufficient = errors.New("sender balance insufficient")

// ErrTxStatusConflict is used when a status advance hits a row that is not
// in the expected previous status.  This is an invariant violation, not a
// recoverable condition.
var ErrTxStatusConflict = errors.New("transaction status transition not allowed")

// ErrProverFailed is used when the proof server fails or rejects the
// circuit input.  The claimed transaction is rolled back to PENDING.
var ErrProverFailed = errors.New("proof server failed to produce a proof")

// ErrChainSubmission is used when the L1 batch submission reverts or the
// RPC call fails.  The transaction stays PROCESSED until startup recovery.
var ErrChainSubmission = errors.New("L1 batch submission failed")

// Wrap annotates the error with the stack trace at the call point
func Wrap(err error) error {
	return tracerr.Wrap(err)
}

// Unwrap returns the underlying error of a traced error
func Unwrap(err error) error {
	return tracerr.Unwrap(err)
}
