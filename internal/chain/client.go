package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "Invoke-Chain/internal/errors"
)

// CodeRPCFailure marks a failed call to a chain node. It is retryable.
const CodeRPCFailure xerrors.Code = "CHAIN_RPC_FAILURE"

func init() {
	xerrors.Register(CodeRPCFailure, xerrors.Attributes{
		Message:   "chain rpc call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Backend is the subset of the go-ethereum client API the queries use. Both
// ethclient.Client and the simulated backend implement it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
}

// Endpoint describes a single chain node.
type Endpoint struct {
	RPCURL      string `yaml:"rpcURL"`
	Description string `yaml:"description"`
}

// Client queries one chain.
type Client struct {
	name    string
	notes   string
	backend Backend
	closer  func()
}

// Dial connects to the node at ep.RPCURL.
func Dial(ctx context.Context, name string, ep Endpoint) (*Client, error) {
	url := strings.TrimSpace(ep.RPCURL)
	if url == "" {
		return nil, fmt.Errorf("chain %s: rpc url is empty", name)
	}
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %s: %w", name, err)
	}
	return &Client{name: name, notes: ep.Description, backend: eth, closer: eth.Close}, nil
}

// NewClient wraps an existing backend, e.g. a simulated one.
func NewClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// Close releases the node connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Snapshot summarises the state of a chain.
type Snapshot struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Snapshot reads the chain id and the latest block number.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return Snapshot{}, c.rpcError("eth_chainId", err)
	}
	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, c.rpcError("eth_blockNumber", err)
	}
	return Snapshot{Chain: c.name, ChainID: id.String(), BlockNumber: block, Notes: c.notes}, nil
}

// Balance returns the balance in wei at block, or at the latest block when
// block is nil.
func (c *Client) Balance(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, block)
	if err != nil {
		return nil, c.rpcError("eth_getBalance", err)
	}
	return balance, nil
}

// Nonce returns the transaction count of account at the latest block.
func (c *Client) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, c.rpcError("eth_getTransactionCount", err)
	}
	return nonce, nil
}

// Receipt summarises a mined transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	Status      uint64 `json:"status"`
	BlockNumber string `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Logs        int    `json:"logs"`
}

// Receipt looks up the receipt of tx.
func (c *Client) Receipt(ctx context.Context, tx common.Hash) (Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, tx)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return Receipt{}, xerrors.Wrap(xerrors.CodeNotFound, err, fmt.Sprintf("receipt %s not found on %s", tx.Hex(), c.name))
		}
		return Receipt{}, c.rpcError("eth_getTransactionReceipt", err)
	}
	out := Receipt{TxHash: r.TxHash.Hex(), Status: r.Status, GasUsed: r.GasUsed, Logs: len(r.Logs)}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.String()
	}
	return out, nil
}

func (c *Client) rpcError(method string, err error) error {
	return xerrors.Wrap(CodeRPCFailure, err, fmt.Sprintf("%s on %s", method, c.name),
		xerrors.WithMetadata("chain", c.name),
		xerrors.WithMetadata("method", method))
}
