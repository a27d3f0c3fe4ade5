package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client used by Client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var ErrNoSigner = errors.New("no executor key configured")

// Client reads events and submits controller transactions on one chain.
type Client struct {
	backend         Backend
	chainID         *big.Int
	key             *ecdsa.PrivateKey
	from            common.Address
	receiptInterval time.Duration
	logger          *slog.Logger

	// sendMu serializes nonce lookup, signing and broadcast of one sender.
	sendMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithSigner sets the key used to sign transactions.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
}

// WithReceiptInterval sets the delay between receipt lookups.
func WithReceiptInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.receiptInterval = interval
	}
}

func NewClient(backend Backend, chainID uint64, logger *slog.Logger, opts ...Option) *Client {
	client := &Client{
		backend:         backend,
		chainID:         new(big.Int).SetUint64(chainID),
		receiptInterval: 2 * time.Second,
		logger:          logger.With("chain_id", chainID),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string, chainID uint64, logger *slog.Logger, opts ...Option) (*Client, *ethclient.Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, failure.Network("dial", err)
	}

	return NewClient(backend, chainID, logger, opts...), backend, nil
}

// ParseKey parses a hex private key, with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, failure.Configuration("parse key", "invalid executor key: %v", err)
	}

	return key, nil
}

// ChainID returns the chain the client is bound to.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// From returns the signer address, zero when no key is set.
func (c *Client) From() common.Address {
	return c.from
}

// HeadBlock returns the latest block number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, failure.Network("head block", err)
	}

	return head, nil
}

// WorkflowEvents returns the WorkflowDataReceived events emitted by token in
// [from, to]. Logs that cannot be decoded are skipped.
func (c *Client) WorkflowEvents(ctx context.Context, token common.Address, from, to uint64) ([]WorkflowDataReceived, error) {
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{WorkflowDataReceivedTopic}},
	})
	if err != nil {
		return nil, failure.Network("filter logs", err)
	}

	events := make([]WorkflowDataReceived, 0, len(logs))

	for _, log := range logs {
		if log.Removed {
			continue
		}

		event, err := DecodeWorkflowDataReceived(log)
		if err != nil {
			c.logger.WarnContext(ctx, "Skipping undecodable log", "tx_hash", log.TxHash.Hex(), "error", err)

			continue
		}

		events = append(events, *event)
	}

	return events, nil
}

// TokenBalance returns the ERC-20 balance of holder.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	calldata, err := parsedTokenABI.Pack(methodBalanceOf, holder)
	if err != nil {
		return nil, err
	}

	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return nil, failure.Network("balance of", err)
	}

	values, err := parsedTokenABI.Unpack(methodBalanceOf, output)
	if err != nil {
		return nil, failure.Network("balance of", fmt.Errorf("unexpected balanceOf output: %w", err))
	}

	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, failure.Network("balance of", errors.New("unexpected balanceOf output"))
	}

	return balance, nil
}

// Simulate dry-runs a call against the latest state. A revert is a simulation error.
func (c *Client) Simulate(ctx context.Context, to common.Address, calldata []byte) error {
	if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: calldata}, nil); err != nil {
		return failure.Simulation("simulate", err)
	}

	return nil
}

// EstimateGas estimates the gas of a call from the signer.
func (c *Client) EstimateGas(ctx context.Context, to common.Address, calldata []byte) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: calldata})
	if err != nil {
		return 0, failure.Network("estimate gas", err)
	}

	return gas, nil
}

// Send signs and broadcasts a call with the given gas limit.
func (c *Client) Send(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, failure.Configuration("send", "%v", ErrNoSigner)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, failure.Network("pending nonce", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, failure.Network("gas price", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, failure.Network("send transaction", err)
	}

	c.logger.InfoContext(ctx, "Transaction submitted", "tx_hash", signed.Hash().Hex(), "nonce", nonce, "gas", gasLimit)

	return signed.Hash(), nil
}

// WaitReceipt polls until the receipt of hash is available or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		if !errors.Is(err, ethereum.NotFound) {
			return nil, failure.Network("transaction receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
