package provider

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"OpenMCP-Intent/internal/config"
	"OpenMCP-Intent/internal/web3"
	"OpenMCP-Intent/internal/web3/ethereum"
)

type nopClient struct {
	name   string
	closed *int
}

func (n nopClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: n.name}, nil
}
func (nopClient) Balance(context.Context, string) (*big.Int, error)        { return big.NewInt(0), nil }
func (nopClient) TransactionCount(context.Context, string) (uint64, error) { return 0, nil }
func (n nopClient) Close()                                                 { *n.closed++ }

func TestRegistryLoadsChainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := "chains:\n  sepolia:\n    rpc_url: http://sepolia.local\n  local:\n    rpc_url: http://127.0.0.1:8545\n    description: dev node\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入链配置失败: %v", err)
	}

	closed := 0
	dial := func(_ context.Context, cfg ethereum.Config) (web3.Client, error) {
		return nopClient{name: cfg.Name, closed: &closed}, nil
	}
	reg, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}, WithDialer(dial))
	if err != nil {
		t.Fatalf("创建注册表失败: %v", err)
	}
	if !reflect.DeepEqual(reg.Chains(), []string{"local", "sepolia"}) {
		t.Fatalf("unexpected chains %v", reg.Chains())
	}
	client, err := reg.DefaultClient()
	if err != nil {
		t.Fatalf("获取默认链失败: %v", err)
	}
	snap, _ := client.FetchChainSnapshot(context.Background())
	if snap.Name != "local" {
		t.Fatalf("default chain should be the first sorted name, got %s", snap.Name)
	}
	reg.Close()
	if closed != 2 {
		t.Fatalf("expected both clients closed, got %d", closed)
	}
}

func TestRegistryFallsBackToSingleRPC(t *testing.T) {
	closed := 0
	dial := func(_ context.Context, cfg ethereum.Config) (web3.Client, error) {
		return nopClient{name: cfg.Name, closed: &closed}, nil
	}
	reg, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://127.0.0.1:8545"}, WithDialer(dial))
	if err != nil {
		t.Fatalf("创建注册表失败: %v", err)
	}
	if _, ok := reg.Client("default"); !ok {
		t.Fatal("expected default client")
	}

	if _, err := NewRegistry(context.Background(), config.Web3Config{}, WithDialer(dial)); err == nil {
		t.Fatal("expected error without any rpc endpoint")
	}
	if _, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://x", DefaultChain: "main"}, WithDialer(dial)); err == nil {
		t.Fatal("expected error for unknown default chain")
	}
}
