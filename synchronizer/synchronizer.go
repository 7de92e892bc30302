/*
Package synchronizer reconciles L1 rollup contract events into the L2
state.  Deposits credit the durable account store directly and enqueue a
zero-amount self-transfer so the next batch folds the credit into the
on-chain root.  Withdrawal requests enqueue a burn transfer to index 0
rewritten with the L1 receiver, leaving the actual balance move to the
coordinator pipeline.
*/
package synchronizer

import (
	"context"
	"math/big"
	"sync"

	"zkrollup-node/common"
	"zkrollup-node/eth"
	"zkrollup-node/log"
	"zkrollup-node/metric"
)

// AccountStore is the slice of the account store the synchronizer writes
type AccountStore interface {
	ApplyDeposit(idx common.Idx, amount *big.Int, sender string) error
}

// TxQueue is the slice of the mempool the synchronizer writes
type TxQueue interface {
	AddTx(txType common.TxType, fromIdx, toIdx common.Idx, amount *big.Int) (int64, error)
	MarkWithdrawal(id int64, receiver string) error
}

// StateSyncer rebuilds the tree snapshot from the account store
type StateSyncer interface {
	Sync() error
}

// Synchronizer implements the synchronization of the L2 state with the
// rollup contract events
type Synchronizer struct {
	rollup   eth.RollupInterface
	accounts AccountStore
	queue    TxQueue
	state    StateSyncer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewSynchronizer creates a new Synchronizer
func NewSynchronizer(rollup eth.RollupInterface, accounts AccountStore,
	queue TxQueue, state StateSyncer) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		rollup:   rollup,
		accounts: accounts,
		queue:    queue,
		state:    state,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start the event watcher and the reconciliation loop
func (s *Synchronizer) Start() {
	if s.started {
		log.Fatal("Synchronizer already started")
	}
	s.started = true
	events := make(chan eth.RollupEvents)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rollup.RollupWatchEvents(s.ctx, events)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				log.Info("Synchronizer done")
				return
			case evts := <-events:
				s.Reconcile(&evts)
			}
		}
	}()
}

// Stop the synchronizer and wait for the in-flight round to finish
func (s *Synchronizer) Stop() {
	if !s.started {
		log.Fatal("Synchronizer already stopped")
	}
	s.started = false
	log.Infow("Stopping Synchronizer...")
	s.cancel()
	s.wg.Wait()
}

// Reconcile applies one round of contract events.  Failures are logged
// and skipped; the event is not retried, the operator resolves from the
// log.  Events within the round apply in log order.
func (s *Synchronizer) Reconcile(evts *eth.RollupEvents) {
	for i := range evts.Deposits {
		if err := s.handleDeposit(&evts.Deposits[i]); err != nil {
			log.Errorw("synchronizer: deposit failed",
				"idx", evts.Deposits[i].AccountIndex, "err", err)
			continue
		}
		metric.Deposits.Inc()
	}
	for i := range evts.WithdrawalRequests {
		if err := s.handleWithdrawalRequested(&evts.WithdrawalRequests[i]); err != nil {
			log.Errorw("synchronizer: withdrawal request failed",
				"idx", evts.WithdrawalRequests[i].AccountIndex, "err", err)
			continue
		}
		metric.WithdrawalRequests.Inc()
	}
}

// handleDeposit credits the account store, refreshes the tree snapshot
// and enqueues the zero-amount self-transfer that carries the credit
// into the next proven root
func (s *Synchronizer) handleDeposit(d *eth.RollupEventDeposit) error {
	idx := common.Idx(d.AccountIndex.Uint64())
	if err := s.accounts.ApplyDeposit(idx, d.Amount, d.Sender.Hex()); err != nil {
		return common.Wrap(err)
	}
	if err := s.state.Sync(); err != nil {
		return common.Wrap(err)
	}
	id, err := s.queue.AddTx(common.TxTypeTransfer, idx, idx, big.NewInt(0))
	if err != nil {
		return common.Wrap(err)
	}
	log.Infow("deposit reconciled", "idx", idx,
		"amount", d.Amount.String(), "sender", d.Sender.Hex(), "tx", id)
	return nil
}

// handleWithdrawalRequested enqueues the burn for the coordinator: a
// transfer to the burn index rewritten as a withdrawal carrying the L1
// receiver.  No balance moves here; the claim transaction does the debit
// and the sufficiency check.
func (s *Synchronizer) handleWithdrawalRequested(
	w *eth.RollupEventWithdrawalRequested) error {
	idx := common.Idx(w.AccountIndex.Uint64())
	id, err := s.queue.AddTx(common.TxTypeTransfer, idx,
		common.WithdrawalBurnIdx, w.Amount)
	if err != nil {
		return common.Wrap(err)
	}
	if err := s.queue.MarkWithdrawal(id, w.Receiver.Hex()); err != nil {
		return common.Wrap(err)
	}
	log.Infow("withdrawal request reconciled", "request", w.RequestId,
		"idx", idx, "amount", w.Amount.String(),
		"receiver", w.Receiver.Hex(), "tx", id)
	return nil
}
