// Package chain talks to the EVM node: read-only contract calls, calldata
// encoding for the asset and settlement contracts, and the Sold log feed.
package chain

import (
	"context"
	"embed"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

//go:embed abi/*.json
var abiFS embed.FS

// Client wraps an ethclient connection and bounds each request by the
// configured call timeout. Subscriptions are not bounded.
type Client struct {
	eth         *ethclient.Client
	callTimeout time.Duration
}

// Dial connects to an HTTP or WebSocket JSON-RPC endpoint.
func Dial(ctx context.Context, rawURL string, callTimeout time.Duration) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	return &Client{eth: eth, callTimeout: callTimeout}, nil
}

// ChainID returns the EIP-155 chain id reported by eth_chainId.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	return id, nil
}

// CallContract implements ethereum.ContractCaller.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.eth.CallContract(ctx, msg, blockNumber)
}

// FilterLogs implements ethereum.LogFilterer.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.eth.FilterLogs(ctx, q)
}

// SubscribeFilterLogs implements ethereum.LogFilterer. It requires a
// WebSocket or IPC endpoint.
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func loadABI(name string) (abi.ABI, error) {
	f, err := abiFS.Open("abi/" + name)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("chain: open abi %s: %w", name, err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("chain: parse abi %s: %w", name, err)
	}
	return parsed, nil
}
