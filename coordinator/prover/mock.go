package prover

import (
	"context"
	"math/big"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/database/statedb"
)

// MockClient is a mock proof server used in tests.  It does not prove
// anything: the returned public signals carry the root recombined from
// the submitted path, which is exactly what a sound proof would attest.
type MockClient struct {
	Delay time.Duration
	// Fail makes every GetProof return ErrProverFailed
	Fail bool

	counter int64
	input   *statedb.CircuitInput
}

// CalculateProof records the circuit input
func (p *MockClient) CalculateProof(ctx context.Context,
	input *statedb.CircuitInput) error {
	p.input = input
	return nil
}

// GetProof waits the configured delay and returns a placeholder proof
// with the recombined root as the single public signal
func (p *MockClient) GetProof(ctx context.Context) (*Proof, []*big.Int, error) {
	if p.Fail {
		return nil, nil, common.Wrap(common.ErrProverFailed)
	}
	if p.input == nil {
		return nil, nil, common.Wrap(common.ErrProverFailed)
	}
	select {
	case <-ctx.Done():
		return nil, nil, common.Wrap(ctx.Err())
	case <-time.After(p.Delay):
	}
	root, err := statedb.RootFromProof(p.input)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	p.counter++
	c := big.NewInt(p.counter)
	proof := &Proof{
		PiA:      [2]*big.Int{c, c},
		PiB:      [2][2]*big.Int{{c, c}, {c, c}},
		PiC:      [2]*big.Int{c, c},
		Protocol: "groth16",
	}
	return proof, []*big.Int{root}, nil
}

// Cancel implements the Client interface
func (p *MockClient) Cancel(ctx context.Context) error {
	p.input = nil
	return nil
}

// WaitReady implements the Client interface
func (p *MockClient) WaitReady(ctx context.Context) error {
	return nil
}
