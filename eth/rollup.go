package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/log"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// rollupABIJSON is the fragment of the rollup contract ABI the node
// uses: the state root viewer, the batch submission entrypoint and the
// two L1->L2 events
const rollupABIJSON = `[
{"type":"function","name":"stateRoot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"submitBatch","stateMutability":"nonpayable","inputs":[{"name":"newRoot","type":"uint256"},{"name":"proofA","type":"uint256[2]"},{"name":"proofB","type":"uint256[2][2]"},{"name":"proofC","type":"uint256[2]"},{"name":"withdrawalReceivers","type":"address[]"},{"name":"withdrawalAmounts","type":"uint256[]"}],"outputs":[]},
{"type":"event","name":"Deposit","inputs":[{"name":"accountIndex","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"sender","type":"address","indexed":false}]},
{"type":"event","name":"WithdrawalRequested","inputs":[{"name":"requestId","type":"uint256","indexed":false},{"name":"accountIndex","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"receiver","type":"address","indexed":false}]}
]`

var (
	logDepositEvent = crypto.Keccak256Hash([]byte(
		"Deposit(uint256,uint256,address)"))
	logWithdrawalRequestedEvent = crypto.Keccak256Hash([]byte(
		"WithdrawalRequested(uint256,uint256,uint256,address)"))
)

// RollupSubmitBatchArgs are the arguments to the submitBatch function of
// the rollup smart contract
type RollupSubmitBatchArgs struct {
	NewRoot             *big.Int
	ProofA              [2]*big.Int
	ProofB              [2][2]*big.Int
	ProofC              [2]*big.Int
	WithdrawalReceivers []ethCommon.Address
	WithdrawalAmounts   []*big.Int
}

// RollupEventDeposit is the Deposit event of the rollup smart contract
type RollupEventDeposit struct {
	AccountIndex *big.Int
	Amount       *big.Int
	Sender       ethCommon.Address
}

// RollupEventWithdrawalRequested is the WithdrawalRequested event of the
// rollup smart contract
type RollupEventWithdrawalRequested struct {
	RequestId    *big.Int
	AccountIndex *big.Int
	Amount       *big.Int
	Receiver     ethCommon.Address
}

// RollupEvents are the L1->L2 events found in one watch round
type RollupEvents struct {
	Deposits           []RollupEventDeposit
	WithdrawalRequests []RollupEventWithdrawalRequested
}

// RollupInterface is the interface to the rollup smart contract
type RollupInterface interface {
	// RollupStateRoot returns the root currently attested on L1
	RollupStateRoot() (*big.Int, error)
	// RollupSubmitBatch submits a proof-backed root update and blocks
	// until the transaction is mined.  A revert is an error.
	RollupSubmitBatch(ctx context.Context, args *RollupSubmitBatchArgs) (*types.Receipt, error)
	// RollupWatchEvents polls for Deposit and WithdrawalRequested logs
	// and sends them on the channel until the context is cancelled
	RollupWatchEvents(ctx context.Context, events chan<- RollupEvents)
	// RollupAddress returns the contract address
	RollupAddress() ethCommon.Address
}

// RollupClient is the implementation of the interface to the rollup
// smart contract
type RollupClient struct {
	client       *EthereumClient
	address      ethCommon.Address
	contractAbi  abi.ABI
	bound        *bind.BoundContract
	opts         *bind.CallOpts
	pollInterval time.Duration
}

// NewRollupClient creates a new RollupClient bound to the contract at
// the given address
func NewRollupClient(client *EthereumClient, address ethCommon.Address,
	pollInterval time.Duration) (*RollupClient, error) {
	contractAbi, err := abi.JSON(strings.NewReader(rollupABIJSON))
	if err != nil {
		return nil, common.Wrap(err)
	}
	bound := bind.NewBoundContract(address, contractAbi,
		client.Client(), client.Client(), client.Client())
	return &RollupClient{
		client:       client,
		address:      address,
		contractAbi:  contractAbi,
		bound:        bound,
		opts:         &bind.CallOpts{},
		pollInterval: pollInterval,
	}, nil
}

// RollupAddress returns the contract address
func (c *RollupClient) RollupAddress() ethCommon.Address {
	return c.address
}

// RollupStateRoot returns the state root currently attested on L1
func (c *RollupClient) RollupStateRoot() (root *big.Int, err error) {
	if err := c.client.Call(func(ec *ethclient.Client) error {
		var out []interface{}
		if err := c.bound.Call(c.opts, &out, "stateRoot"); err != nil {
			return common.Wrap(err)
		}
		root = *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
		return nil
	}); err != nil {
		return nil, common.Wrap(err)
	}
	return root, nil
}

// RollupSubmitBatch submits the batch and waits for it to be mined
func (c *RollupClient) RollupSubmitBatch(ctx context.Context,
	args *RollupSubmitBatchArgs) (*types.Receipt, error) {
	tx, err := c.bound.Transact(c.client.auth, "submitBatch",
		args.NewRoot, args.ProofA, args.ProofB, args.ProofC,
		args.WithdrawalReceivers, args.WithdrawalAmounts)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: %s", common.ErrChainSubmission, err))
	}
	receipt, err := bind.WaitMined(ctx, c.client.Client(), tx)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: %s", common.ErrChainSubmission, err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, common.Wrap(fmt.Errorf("%w: reverted, tx %s",
			common.ErrChainSubmission, tx.Hash()))
	}
	return receipt, nil
}

// RollupWatchEvents polls the contract logs on a fixed interval,
// decoding Deposit and WithdrawalRequested events into the channel.
// RPC failures are logged and retried on the next round.
func (c *RollupClient) RollupWatchEvents(ctx context.Context,
	events chan<- RollupEvents) {
	lastBlock, err := c.client.EthLastBlock()
	if err != nil {
		log.Errorw("rollup watcher: can not get last block", "err", err)
		lastBlock = 0
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := c.client.EthLastBlock()
		if err != nil {
			log.Errorw("rollup watcher: can not get last block", "err", err)
			continue
		}
		if head <= lastBlock {
			continue
		}
		evts, err := c.rollupEventsByBlockRange(ctx, lastBlock+1, head)
		if err != nil {
			log.Errorw("rollup watcher: log filter failed", "err", err)
			continue
		}
		lastBlock = head
		if len(evts.Deposits) == 0 && len(evts.WithdrawalRequests) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case events <- *evts:
		}
	}
}

// rollupEventsByBlockRange filters and decodes the contract logs in
// [from, to]
func (c *RollupClient) rollupEventsByBlockRange(ctx context.Context,
	from, to int64) (*RollupEvents, error) {
	query := ethereum.FilterQuery{
		Addresses: []ethCommon.Address{c.address},
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Topics: [][]ethCommon.Hash{{
			logDepositEvent,
			logWithdrawalRequestedEvent,
		}},
	}
	logs, err := c.client.Client().FilterLogs(ctx, query)
	if err != nil {
		return nil, common.Wrap(err)
	}
	var evts RollupEvents
	for i := range logs {
		switch logs[i].Topics[0] {
		case logDepositEvent:
			var d RollupEventDeposit
			if err := c.contractAbi.UnpackIntoInterface(&d, "Deposit",
				logs[i].Data); err != nil {
				return nil, common.Wrap(err)
			}
			evts.Deposits = append(evts.Deposits, d)
		case logWithdrawalRequestedEvent:
			var w RollupEventWithdrawalRequested
			if err := c.contractAbi.UnpackIntoInterface(&w, "WithdrawalRequested",
				logs[i].Data); err != nil {
				return nil, common.Wrap(err)
			}
			evts.WithdrawalRequests = append(evts.WithdrawalRequests, w)
		}
	}
	return &evts, nil
}
