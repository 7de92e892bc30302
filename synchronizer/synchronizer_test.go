package synchronizer

import (
	"errors"
	"math/big"
	"testing"

	"zkrollup-node/common"
	"zkrollup-node/eth"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type depositCall struct {
	idx    common.Idx
	amount *big.Int
	sender string
}

type fakeAccountStore struct {
	deposits []depositCall
	err      error
}

func (f *fakeAccountStore) ApplyDeposit(idx common.Idx, amount *big.Int,
	sender string) error {
	if f.err != nil {
		return f.err
	}
	f.deposits = append(f.deposits, depositCall{idx, amount, sender})
	return nil
}

type queuedTx struct {
	id       int64
	txType   common.TxType
	fromIdx  common.Idx
	toIdx    common.Idx
	amount   *big.Int
	receiver string
}

type fakeTxQueue struct {
	txs    []queuedTx
	nextID int64
	addErr error
}

func (f *fakeTxQueue) AddTx(txType common.TxType, fromIdx, toIdx common.Idx,
	amount *big.Int) (int64, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.nextID++
	f.txs = append(f.txs, queuedTx{
		id: f.nextID, txType: txType, fromIdx: fromIdx, toIdx: toIdx,
		amount: amount,
	})
	return f.nextID, nil
}

func (f *fakeTxQueue) MarkWithdrawal(id int64, receiver string) error {
	for i := range f.txs {
		if f.txs[i].id == id {
			f.txs[i].txType = common.TxTypeWithdrawal
			f.txs[i].receiver = receiver
			return nil
		}
	}
	return common.ErrTxStatusConflict
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) Sync() error {
	if f.err != nil {
		return f.err
	}
	f.calls++
	return nil
}

func newTestSync() (*Synchronizer, *fakeAccountStore, *fakeTxQueue, *fakeSyncer) {
	accounts := &fakeAccountStore{}
	queue := &fakeTxQueue{}
	state := &fakeSyncer{}
	return NewSynchronizer(nil, accounts, queue, state), accounts, queue, state
}

func TestReconcileDeposit(t *testing.T) {
	s, accounts, queue, state := newTestSync()
	s.Reconcile(&eth.RollupEvents{Deposits: []eth.RollupEventDeposit{{
		AccountIndex: big.NewInt(2),
		Amount:       big.NewInt(500),
		Sender:       ethCommon.HexToAddress("0x1111111111111111111111111111111111111111"),
	}}})

	require.Len(t, accounts.deposits, 1)
	assert.Equal(t, common.Idx(2), accounts.deposits[0].idx)
	assert.Equal(t, 0, big.NewInt(500).Cmp(accounts.deposits[0].amount))
	assert.Equal(t, 1, state.calls)

	// exactly one zero-amount self-transfer enqueued
	require.Len(t, queue.txs, 1)
	assert.Equal(t, common.TxTypeTransfer, queue.txs[0].txType)
	assert.Equal(t, common.Idx(2), queue.txs[0].fromIdx)
	assert.Equal(t, common.Idx(2), queue.txs[0].toIdx)
	assert.Equal(t, 0, big.NewInt(0).Cmp(queue.txs[0].amount))
}

func TestReconcileWithdrawalRequest(t *testing.T) {
	s, _, queue, state := newTestSync()
	s.Reconcile(&eth.RollupEvents{WithdrawalRequests: []eth.RollupEventWithdrawalRequested{{
		RequestId:    big.NewInt(7),
		AccountIndex: big.NewInt(3),
		Amount:       big.NewInt(30),
		Receiver:     ethCommon.HexToAddress("0x0000000000000000000000000000000000000abc"),
	}}})

	require.Len(t, queue.txs, 1)
	assert.Equal(t, common.TxTypeWithdrawal, queue.txs[0].txType)
	assert.Equal(t, common.Idx(3), queue.txs[0].fromIdx)
	assert.Equal(t, common.WithdrawalBurnIdx, queue.txs[0].toIdx)
	assert.Equal(t, 0, big.NewInt(30).Cmp(queue.txs[0].amount))
	assert.Equal(t, ethCommon.HexToAddress("0xABC").Hex(), queue.txs[0].receiver)

	// no tree refresh for a withdrawal request; the burn happens at forge
	assert.Equal(t, 0, state.calls)
}

func TestReconcileDepositFailureSkipsEnqueue(t *testing.T) {
	s, accounts, queue, _ := newTestSync()
	accounts.err = errors.New("store down")
	s.Reconcile(&eth.RollupEvents{Deposits: []eth.RollupEventDeposit{{
		AccountIndex: big.NewInt(2),
		Amount:       big.NewInt(500),
	}}})
	assert.Empty(t, queue.txs)
}

func TestReconcileContinuesAfterFailure(t *testing.T) {
	s, _, queue, _ := newTestSync()
	queue.addErr = errors.New("mempool down")
	s.Reconcile(&eth.RollupEvents{
		Deposits: []eth.RollupEventDeposit{{
			AccountIndex: big.NewInt(1), Amount: big.NewInt(10),
		}},
		WithdrawalRequests: []eth.RollupEventWithdrawalRequested{{
			RequestId: big.NewInt(1), AccountIndex: big.NewInt(2),
			Amount: big.NewInt(5),
		}},
	})
	// both events fail to enqueue, neither crashes the loop
	assert.Empty(t, queue.txs)
}
