package eth

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTopics(t *testing.T) {
	contractAbi, err := abi.JSON(strings.NewReader(rollupABIJSON))
	require.NoError(t, err)
	assert.Equal(t, logDepositEvent, contractAbi.Events["Deposit"].ID)
	assert.Equal(t, logWithdrawalRequestedEvent,
		contractAbi.Events["WithdrawalRequested"].ID)
}

func TestUnpackDepositEvent(t *testing.T) {
	contractAbi, err := abi.JSON(strings.NewReader(rollupABIJSON))
	require.NoError(t, err)
	sender := ethCommon.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := contractAbi.Events["Deposit"].Inputs.Pack(
		big.NewInt(2), big.NewInt(500), sender)
	require.NoError(t, err)

	var d RollupEventDeposit
	require.NoError(t, contractAbi.UnpackIntoInterface(&d, "Deposit", data))
	assert.Equal(t, 0, big.NewInt(2).Cmp(d.AccountIndex))
	assert.Equal(t, 0, big.NewInt(500).Cmp(d.Amount))
	assert.Equal(t, sender, d.Sender)
}

func TestUnpackWithdrawalRequestedEvent(t *testing.T) {
	contractAbi, err := abi.JSON(strings.NewReader(rollupABIJSON))
	require.NoError(t, err)
	receiver := ethCommon.HexToAddress("0x0000000000000000000000000000000000000abc")
	data, err := contractAbi.Events["WithdrawalRequested"].Inputs.Pack(
		big.NewInt(7), big.NewInt(3), big.NewInt(30), receiver)
	require.NoError(t, err)

	var w RollupEventWithdrawalRequested
	require.NoError(t, contractAbi.UnpackIntoInterface(&w,
		"WithdrawalRequested", data))
	assert.Equal(t, 0, big.NewInt(7).Cmp(w.RequestId))
	assert.Equal(t, 0, big.NewInt(3).Cmp(w.AccountIndex))
	assert.Equal(t, 0, big.NewInt(30).Cmp(w.Amount))
	assert.Equal(t, receiver, w.Receiver)
}

func TestPackSubmitBatch(t *testing.T) {
	contractAbi, err := abi.JSON(strings.NewReader(rollupABIJSON))
	require.NoError(t, err)
	one := big.NewInt(1)
	args := &RollupSubmitBatchArgs{
		NewRoot:             big.NewInt(12345),
		ProofA:              [2]*big.Int{one, one},
		ProofB:              [2][2]*big.Int{{one, one}, {one, one}},
		ProofC:              [2]*big.Int{one, one},
		WithdrawalReceivers: []ethCommon.Address{},
		WithdrawalAmounts:   []*big.Int{},
	}
	calldata, err := contractAbi.Pack("submitBatch", args.NewRoot,
		args.ProofA, args.ProofB, args.ProofC,
		args.WithdrawalReceivers, args.WithdrawalAmounts)
	require.NoError(t, err)
	assert.Equal(t, contractAbi.Methods["submitBatch"].ID, calldata[:4])
}
