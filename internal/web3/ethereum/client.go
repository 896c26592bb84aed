package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OpenMCP-Intent/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of ethclient.Client the wallet endpoints use.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   Backend
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewClientWithBackend wraps an existing backend, typically a test double.
func NewClientWithBackend(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eth, ok := c.backend.(*ethclient.Client); ok {
		eth.Close()
	}
	c.backend = nil
	c.rpcClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.current()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Balance returns the latest balance of address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	backend, err := c.current()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// TransactionCount returns the pending nonce of address.
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	backend, err := c.current()
	if err != nil {
		return 0, err
	}
	nonce, err := backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

func (c *Client) current() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

func parseAddress(address string) (common.Address, error) {
	addr := strings.TrimSpace(address)
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("非法的钱包地址: %q", address)
	}
	return common.HexToAddress(addr), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
