// Package prover provides the client to the external proof server.  The
// server receives the circuit input of one state transition and returns
// the proof and public signals attesting that the Merkle path is valid
// and yields the new root.  Proving can take seconds to minutes; the
// client polls the server until it leaves the busy state.
package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/database/statedb"
	"zkrollup-node/log"

	"github.com/dghubble/sling"
)

// Proof is the proof returned by the server, in the calldata-ready shape
// the rollup contract verifier consumes
type Proof struct {
	PiA      [2]*big.Int    `json:"pi_a"`
	PiB      [2][2]*big.Int `json:"pi_b"`
	PiC      [2]*big.Int    `json:"pi_c"`
	Protocol string         `json:"protocol"`
}

// Client is the interface to a proof server
type Client interface {
	// CalculateProof sends the circuit input to the server.  Non-blocking.
	CalculateProof(ctx context.Context, input *statedb.CircuitInput) error
	// GetProof blocks until the server finishes, returning the proof and
	// the public signals.  publicSignals[0] is the new root.
	GetProof(ctx context.Context) (*Proof, []*big.Int, error)
	// Cancel aborts an in-flight proof.  Non-blocking.
	Cancel(ctx context.Context) error
	// WaitReady blocks until the server can accept an input
	WaitReady(ctx context.Context) error
}

// StatusCode is the status string reported by the proof server
type StatusCode string

const (
	// StatusCodeAborted means the previous proof was aborted
	StatusCodeAborted StatusCode = "aborted"
	// StatusCodeBusy means the server is computing a proof
	StatusCodeBusy StatusCode = "busy"
	// StatusCodeFailed means the previous proof failed
	StatusCodeFailed StatusCode = "failed"
	// StatusCodeSuccess means the previous proof succeeded
	StatusCodeSuccess StatusCode = "success"
	// StatusCodeUninitialized means the server is not initialized
	StatusCodeUninitialized StatusCode = "uninitialized"
	// StatusCodeInitializing means the server is initializing
	StatusCodeInitializing StatusCode = "initializing"
	// StatusCodeReady means the server is ready for a first proof
	StatusCodeReady StatusCode = "ready"
)

// IsReady reports whether the server accepts a new input
func (status StatusCode) IsReady() bool {
	return status == StatusCodeAborted || status == StatusCodeFailed ||
		status == StatusCodeSuccess || status == StatusCodeReady
}

// IsInitialized reports whether the server finished booting
func (status StatusCode) IsInitialized() bool {
	return status != StatusCodeUninitialized && status != StatusCodeInitializing
}

// Status is the return struct of the status endpoint
type Status struct {
	Status  StatusCode `json:"status"`
	Proof   string     `json:"proof"`
	PubData string     `json:"pubData"`
}

// errorServer is the return struct of an API error
type errorServer struct {
	Status  StatusCode `json:"status"`
	Message string     `json:"msg"`
}

func (e errorServer) Error() string {
	return fmt.Sprintf("proof server status: %s, message: %s", e.Status, e.Message)
}

// ProofServerClient is an http Client implementation over a proof server
type ProofServerClient struct {
	URL          string
	client       *sling.Sling
	pollInterval time.Duration
}

// NewProofServerClient creates a ProofServerClient
func NewProofServerClient(url string, pollInterval time.Duration) *ProofServerClient {
	if url[len(url)-1] != '/' {
		url += "/"
	}
	return &ProofServerClient{
		URL:          url,
		client:       sling.New().Base(url),
		pollInterval: pollInterval,
	}
}

func (p *ProofServerClient) apiRequest(ctx context.Context, method, path string,
	body interface{}, ret interface{}) error {
	path = path[1:] // remove leading '/'
	var req *http.Request
	var err error
	switch method {
	case http.MethodGet:
		req, err = p.client.New().Get(path).Request()
	case http.MethodPost:
		req, err = p.client.New().Post(path).BodyJSON(body).Request()
	default:
		return common.Wrap(fmt.Errorf("invalid http method: %s", method))
	}
	if err != nil {
		return common.Wrap(err)
	}
	var errSrv errorServer
	res, err := p.client.Do(req.WithContext(ctx), ret, &errSrv)
	if err != nil {
		return common.Wrap(err)
	}
	defer res.Body.Close() //nolint:errcheck
	if !(200 <= res.StatusCode && res.StatusCode < 300) {
		return common.Wrap(errSrv)
	}
	return nil
}

func (p *ProofServerClient) apiStatus(ctx context.Context) (*Status, error) {
	var status Status
	return &status, common.Wrap(
		p.apiRequest(ctx, http.MethodGet, "/status", nil, &status),
	)
}

func (p *ProofServerClient) apiInput(ctx context.Context,
	input *statedb.CircuitInput) error {
	return common.Wrap(
		p.apiRequest(ctx, http.MethodPost, "/input", input, nil),
	)
}

func (p *ProofServerClient) apiCancel(ctx context.Context) error {
	return common.Wrap(
		p.apiRequest(ctx, http.MethodPost, "/cancel", nil, nil),
	)
}

// CalculateProof sends the circuit input to the proof server
func (p *ProofServerClient) CalculateProof(ctx context.Context,
	input *statedb.CircuitInput) error {
	return common.Wrap(p.apiInput(ctx, input))
}

// GetProof polls the server until the proof leaves the busy state, then
// parses the proof and public signals
func (p *ProofServerClient) GetProof(ctx context.Context) (*Proof, []*big.Int, error) {
	status, err := p.waitStatus(ctx, func(s StatusCode) bool { return s != StatusCodeBusy })
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	if status.Status != StatusCodeSuccess {
		return nil, nil, common.Wrap(fmt.Errorf("%w: status %s",
			common.ErrProverFailed, status.Status))
	}
	if status.Proof == "" || status.PubData == "" {
		return nil, nil, common.Wrap(fmt.Errorf("%w: empty proof or public data",
			common.ErrProverFailed))
	}
	var proof Proof
	if err := json.Unmarshal([]byte(status.Proof), &proof); err != nil {
		return nil, nil, common.Wrap(err)
	}
	pubSignals, err := parsePubData(status.PubData)
	if err != nil {
		return nil, nil, common.Wrap(err)
	}
	return &proof, pubSignals, nil
}

// Cancel aborts any in-flight proof computation
func (p *ProofServerClient) Cancel(ctx context.Context) error {
	return common.Wrap(p.apiCancel(ctx))
}

// WaitReady waits until the proof server is initialized and ready
func (p *ProofServerClient) WaitReady(ctx context.Context) error {
	status, err := p.apiStatus(ctx)
	if err != nil {
		return common.Wrap(err)
	}
	if !status.Status.IsInitialized() {
		log.Info("proof server is initializing")
	}
	_, err = p.waitStatus(ctx, func(s StatusCode) bool { return s.IsReady() })
	return common.Wrap(err)
}

func (p *ProofServerClient) waitStatus(ctx context.Context,
	done func(StatusCode) bool) (*Status, error) {
	for {
		status, err := p.apiStatus(ctx)
		if err != nil {
			return nil, common.Wrap(err)
		}
		if done(status.Status) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, common.Wrap(ctx.Err())
		case <-time.After(p.pollInterval):
		}
	}
}

// parsePubData decodes the public signals, a JSON array of decimal
// strings or numbers
func parsePubData(s string) ([]*big.Int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, common.Wrap(err)
	}
	signals := make([]*big.Int, len(raw))
	for i, r := range raw {
		var str string
		if err := json.Unmarshal(r, &str); err != nil {
			// not a string, try a bare number
			str = string(r)
		}
		v, ok := new(big.Int).SetString(str, 10)
		if !ok {
			return nil, common.Wrap(fmt.Errorf("invalid public signal %q", str))
		}
		signals[i] = v
	}
	return signals, nil
}
