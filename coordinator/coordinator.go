/*
Package coordinator is the sequencer pipeline.  On a fixed interval it
claims the oldest PENDING transaction from the durable mempool, applies
its balance moves, asks the proof server for a proof of the resulting
state transition and submits the new root to the rollup contract.  Only
after the L1 transaction is confirmed does the mempool row advance to
ON_CHAIN and the new tree snapshot become visible.

One claim is processed at a time.  All durable effects of a claim (the
status advance and the balance moves) share one SQL transaction, so any
failure before L1 confirmation rolls the round back and leaves the row
PENDING with no side effects.
*/
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/coordinator/prover"
	"zkrollup-node/database/historydb"
	"zkrollup-node/database/l2db"
	"zkrollup-node/database/statedb"
	"zkrollup-node/eth"
	"zkrollup-node/log"
	"zkrollup-node/metric"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
)

const defaultForgeInterval = 10 * time.Second

// Config contains the Coordinator configuration
type Config struct {
	// ForgeInterval is the time between forge rounds.  Each round
	// processes at most one mempool transaction.
	ForgeInterval time.Duration
	// ProverWaitTimeout bounds one proof computation.  Zero means no
	// bound beyond the coordinator context.
	ProverWaitTimeout time.Duration
}

func (cfg *Config) forgeInterval() time.Duration {
	if cfg.ForgeInterval == 0 {
		return defaultForgeInterval
	}
	return cfg.ForgeInterval
}

// Coordinator claims mempool transactions and forges them into batches
type Coordinator struct {
	cfg Config

	historyDB *historydb.HistoryDB
	l2DB      *l2db.L2DB
	stateDB   *statedb.StateDB
	prover    prover.Client
	rollup    eth.RollupInterface

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewCoordinator creates a Coordinator.  Work interrupted by a crash is
// recovered before the forge loop starts: PROCESSED rows that never got
// a proof go back to PENDING with their balance moves reverted.
func NewCoordinator(cfg Config, historyDB *historydb.HistoryDB,
	l2DB *l2db.L2DB, stateDB *statedb.StateDB, proofClient prover.Client,
	rollup eth.RollupInterface) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		historyDB: historyDB,
		l2DB:      l2DB,
		stateDB:   stateDB,
		prover:    proofClient,
		rollup:    rollup,
		ctx:       ctx,
		cancel:    cancel,
	}
	recovered, err := c.recoverStuck()
	if err != nil {
		cancel()
		return nil, common.Wrap(err)
	}
	if recovered > 0 {
		log.Warnw("recovered stuck transactions", "count", recovered)
	}
	return c, nil
}

// recoverStuck demotes proof-less PROCESSED rows back to PENDING and
// reverts their balance moves, all in one SQL transaction.  Re-claiming
// the row then re-applies the moves exactly once.  If the interrupted L1
// submission actually landed, the retried submission carries the same
// root and is rejected by the contract, which is logged and leaves the
// row PENDING for the operator to resolve.
func (c *Coordinator) recoverStuck() (n int64, err error) {
	txn, err := c.l2DB.DB().Beginx()
	if err != nil {
		return 0, common.Wrap(err)
	}
	defer func() {
		if err != nil {
			if errRb := txn.Rollback(); errRb != nil {
				log.Errorw("recovery rollback failed", "err", errRb)
			}
		}
	}()
	stuck, err := c.l2DB.StuckProcessed(txn)
	if err != nil {
		return 0, common.Wrap(err)
	}
	for i := range stuck {
		if err = c.revertTx(txn, &stuck[i]); err != nil {
			return 0, common.Wrap(err)
		}
		if err = c.l2DB.DemoteToPending(txn, stuck[i].ID); err != nil {
			return 0, common.Wrap(err)
		}
		log.Warnw("demoted stuck transaction", "id", stuck[i].ID,
			"type", stuck[i].Type)
	}
	if err = txn.Commit(); err != nil {
		return 0, common.Wrap(err)
	}
	return int64(len(stuck)), nil
}

// revertTx undoes the balance moves of applyTx inside txn
func (c *Coordinator) revertTx(txn *sqlx.Tx, tx *common.Tx) error {
	if tx.FromIdx == tx.ToIdx && !tx.IsWithdrawal() {
		return nil
	}
	from, err := historydb.GetAccountForUpdate(txn, tx.FromIdx)
	if err != nil {
		return common.Wrap(err)
	}
	fromBalance := new(big.Int).Add(from.Balance, tx.Amount)
	if err := historydb.UpdateAccountBalance(txn, tx.FromIdx, fromBalance); err != nil {
		return common.Wrap(err)
	}
	if tx.IsWithdrawal() {
		return nil
	}
	to, err := historydb.GetAccountForUpdate(txn, tx.ToIdx)
	if err != nil {
		return common.Wrap(err)
	}
	toBalance := new(big.Int).Sub(to.Balance, tx.Amount)
	return common.Wrap(historydb.UpdateAccountBalance(txn, tx.ToIdx, toBalance))
}

// Start the forge loop
func (c *Coordinator) Start() {
	if c.started {
		log.Fatal("Coordinator already started")
	}
	c.started = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.forgeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				log.Info("Coordinator done")
				return
			case <-ticker.C:
			}
			forged, err := c.ForgeNextBatch(c.ctx)
			if c.ctx.Err() != nil {
				continue
			}
			if err != nil {
				metric.ForgeErrors.Inc()
				log.Errorw("Coordinator.ForgeNextBatch", "err", err)
				continue
			}
			if forged {
				metric.BatchesForged.Inc()
			}
			if n, err := c.l2DB.PendingCount(); err == nil {
				metric.PendingTxs.Set(float64(n))
			}
		}
	}()
}

// Stop the coordinator and wait for the in-flight round to finish
func (c *Coordinator) Stop() {
	if !c.started {
		log.Fatal("Coordinator already stopped")
	}
	c.started = false
	log.Infow("Stopping Coordinator...")
	c.cancel()
	c.wg.Wait()
}

// ForgeNextBatch runs one forge round: claim, apply, prove, submit,
// settle.  Returns false when the mempool is empty.  On any error the
// claim transaction rolls back and the mempool row stays PENDING.
func (c *Coordinator) ForgeNextBatch(ctx context.Context) (forged bool, err error) {
	txn, err := c.l2DB.DB().Beginx()
	if err != nil {
		return false, common.Wrap(err)
	}
	committed := false
	defer func() {
		if err != nil && !committed {
			if errRb := txn.Rollback(); errRb != nil {
				log.Errorw("forge rollback failed", "err", errRb)
			}
		}
	}()

	tx, err := c.l2DB.ClaimNextPending(txn)
	if err != nil {
		return false, common.Wrap(err)
	}
	if tx == nil {
		committed = true
		return false, common.Wrap(txn.Rollback())
	}
	log.Infow("forging transaction", "id", tx.ID, "type", tx.Type,
		"from", tx.FromIdx, "to", tx.ToIdx, "amount", tx.Amount.String())

	tree, err := c.applyTx(txn, tx)
	if err != nil {
		return false, common.Wrap(err)
	}

	proof, newRoot, err := c.proveTx(ctx, tree, tx)
	if err != nil {
		return false, common.Wrap(err)
	}

	if err = c.l2DB.MarkProcessed(txn, tx.ID); err != nil {
		return false, common.Wrap(err)
	}
	// Point of no return for the mempool row: the claim and the balance
	// moves become durable before the L1 submission, and a crash from
	// here on is healed by recoverStuck at the next startup.
	if err = txn.Commit(); err != nil {
		return false, common.Wrap(err)
	}
	committed = true

	if err := c.submitBatch(ctx, tx, proof, newRoot); err != nil {
		return true, common.Wrap(err)
	}

	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return true, common.Wrap(err)
	}
	if err := c.l2DB.MarkOnChain(tx.ID, string(proofJSON)); err != nil {
		return true, common.Wrap(err)
	}
	c.stateDB.Publish(tree)
	metric.LastBatchRoot.Set(float64(new(big.Int).Rsh(newRoot, 192).Int64()))
	log.Infow("batch settled", "id", tx.ID, "root", newRoot.String())
	return true, nil
}

// applyTx moves the balances of the claimed transaction inside txn and
// returns the tree snapshot that reflects them.  A zero-amount
// self-transfer (the deposit reconciliation marker) touches no balances
// but still refreshes the sender leaf from the account store, which is
// what folds the L1 credit into the root.
func (c *Coordinator) applyTx(txn *sqlx.Tx, tx *common.Tx) (*statedb.AccountTree, error) {
	from, err := historydb.GetAccountForUpdate(txn, tx.FromIdx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if from.Balance.Cmp(tx.Amount) < 0 {
		return nil, common.Wrap(fmt.Errorf("%w: account %d has %s, needs %s",
			common.ErrBalanceInsufficient, tx.FromIdx,
			from.Balance.String(), tx.Amount.String()))
	}

	tree := c.stateDB.Tree().Clone()
	fromBalance := new(big.Int).Sub(from.Balance, tx.Amount)

	switch {
	case tx.IsWithdrawal():
		// burn only: the credit happens on L1
	case tx.FromIdx == tx.ToIdx:
		fromBalance = from.Balance
	default:
		to, err := historydb.GetAccountForUpdate(txn, tx.ToIdx)
		if err != nil {
			return nil, common.Wrap(err)
		}
		toBalance := new(big.Int).Add(to.Balance, tx.Amount)
		if err := historydb.UpdateAccountBalance(txn, tx.ToIdx, toBalance); err != nil {
			return nil, common.Wrap(err)
		}
		if _, err := tree.InsertLeaf(uint64(tx.ToIdx), toBalance, to.Pubkey); err != nil {
			return nil, common.Wrap(err)
		}
	}

	if err := historydb.UpdateAccountBalance(txn, tx.FromIdx, fromBalance); err != nil {
		return nil, common.Wrap(err)
	}
	if _, err := tree.InsertLeaf(uint64(tx.FromIdx), fromBalance, from.Pubkey); err != nil {
		return nil, common.Wrap(err)
	}
	return tree, nil
}

// proveTx sends the sender inclusion path of the post-state tree to the
// proof server and waits for the proof.  publicSignals[0] must equal the
// root of the tree or the round is aborted.
func (c *Coordinator) proveTx(ctx context.Context, tree *statedb.AccountTree,
	tx *common.Tx) (*prover.Proof, *big.Int, error) {
	if c.cfg.ProverWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ProverWaitTimeout)
		defer cancel()
	}
	input, err := tree.GenerateProof(uint64(tx.FromIdx))
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if err := c.prover.WaitReady(ctx); err != nil {
		return nil, nil, common.Wrap(err)
	}
	if err := c.prover.CalculateProof(ctx, input); err != nil {
		return nil, nil, common.Wrap(err)
	}
	proofStart := time.Now()
	proof, pubSignals, err := c.prover.GetProof(ctx)
	if err != nil {
		if errC := c.prover.Cancel(context.Background()); errC != nil {
			log.Warnw("prover cancel failed", "err", errC)
		}
		return nil, nil, common.Wrap(err)
	}
	metric.MeasureDuration(metric.WaitServerProof, proofStart, string(tx.Type))
	if len(pubSignals) == 0 {
		return nil, nil, common.Wrap(fmt.Errorf("%w: no public signals",
			common.ErrProverFailed))
	}
	newRoot := pubSignals[0]
	treeRoot, err := tree.Root()
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if newRoot.Cmp(treeRoot) != 0 {
		return nil, nil, common.Wrap(fmt.Errorf(
			"%w: proven root %s does not match local root %s",
			common.ErrProverFailed, newRoot.String(), treeRoot.String()))
	}
	return proof, newRoot, nil
}

// submitBatch sends the proven root to the rollup contract and waits for
// the transaction to be mined.  A withdrawal carries the L1 payout in
// the calldata arrays; every other type submits empty arrays.
func (c *Coordinator) submitBatch(ctx context.Context, tx *common.Tx,
	proof *prover.Proof, newRoot *big.Int) error {
	args := &eth.RollupSubmitBatchArgs{
		NewRoot:             newRoot,
		ProofA:              proof.PiA,
		ProofB:              proof.PiB,
		ProofC:              proof.PiC,
		WithdrawalReceivers: []ethCommon.Address{},
		WithdrawalAmounts:   []*big.Int{},
	}
	if tx.IsWithdrawal() {
		if tx.ToEthAddr == nil {
			return common.Wrap(fmt.Errorf("withdrawal %d has no receiver", tx.ID))
		}
		args.WithdrawalReceivers = []ethCommon.Address{
			ethCommon.HexToAddress(*tx.ToEthAddr)}
		args.WithdrawalAmounts = []*big.Int{tx.Amount}
	}
	receipt, err := c.rollup.RollupSubmitBatch(ctx, args)
	if err != nil {
		return common.Wrap(err)
	}
	log.Debugw("batch mined", "id", tx.ID, "l1Tx", receipt.TxHash.String(),
		"block", receipt.BlockNumber)
	return nil
}
