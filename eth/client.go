// Package eth interfaces the node with the L1 chain: a thin ethereum
// client wrapper plus the rollup contract binding.
package eth

import (
	"context"
	"math/big"

	"zkrollup-node/common"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientInterface is the eth client interface used by the node to
// interact with the L1 blockchain and the rollup smart contract
type ClientInterface interface {
	EthereumInterface
	RollupInterface
}

// EthereumInterface is the interface to the ethereum node
type EthereumInterface interface {
	EthLastBlock() (int64, error)
	EthChainID() (*big.Int, error)
	EthAddress() ethCommon.Address
}

// EthereumClient is an ethereum client to call smart contract methods
// and check blockchain information
type EthereumClient struct {
	client  *ethclient.Client
	chainID *big.Int
	auth    *bind.TransactOpts
}

// NewEthereumClient dials the node and derives the sequencer transactor
// from the given hex private key
func NewEthereumClient(rawURL, privateKeyHex string) (*EthereumClient, error) {
	client, err := ethclient.Dial(rawURL)
	if err != nil {
		return nil, common.Wrap(err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, common.Wrap(err)
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, common.Wrap(err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &EthereumClient{
		client:  client,
		chainID: chainID,
		auth:    auth,
	}, nil
}

// Client returns the underlying ethclient.Client
func (c *EthereumClient) Client() *ethclient.Client {
	return c.client
}

// Call runs the fn with the underlying client, wrapping the error
func (c *EthereumClient) Call(fn func(*ethclient.Client) error) error {
	return common.Wrap(fn(c.client))
}

// EthLastBlock returns the last block number in the blockchain
func (c *EthereumClient) EthLastBlock() (int64, error) {
	header, err := c.client.HeaderByNumber(context.Background(), nil)
	if err != nil {
		return 0, common.Wrap(err)
	}
	return header.Number.Int64(), nil
}

// EthChainID returns the chain id of the ethereum network
func (c *EthereumClient) EthChainID() (*big.Int, error) {
	return c.chainID, nil
}

// EthAddress returns the sequencer address loaded into the client
func (c *EthereumClient) EthAddress() ethCommon.Address {
	return c.auth.From
}
