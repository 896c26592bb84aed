package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"OpenMCP-Intent/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

type fakeBackend struct {
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	err      error
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), f.err }
func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, f.err }

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[account]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	return f.nonces[account], f.err
}

const testAddress = "0x00000000000000000000000000000000000000aa"

func TestClientReadsBalanceAndNonce(t *testing.T) {
	addr := common.HexToAddress(testAddress)
	backend := &fakeBackend{
		balances: map[common.Address]*big.Int{addr: new(big.Int).Mul(big.NewInt(3), big.NewInt(params.Ether))},
		nonces:   map[common.Address]uint64{addr: 7},
	}
	client := NewClientWithBackend("local", backend)
	ctx := context.Background()

	balance, err := client.Balance(ctx, testAddress)
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	if got := web3.FormatEther(balance); got != "3.0000" {
		t.Fatalf("unexpected balance %s", got)
	}

	count, err := client.TransactionCount(ctx, testAddress)
	if err != nil || count != 7 {
		t.Fatalf("unexpected nonce %d %v", count, err)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("获取链信息失败: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.BlockNumber != "0x2a" || snapshot.Name != "local" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestClientRejectsBadInput(t *testing.T) {
	client := NewClientWithBackend("local", &fakeBackend{err: errors.New("rpc down")})
	if _, err := client.Balance(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected address validation error")
	}
	if _, err := client.Balance(context.Background(), testAddress); err == nil {
		t.Fatal("expected backend error")
	}
	client.Close()
	if _, err := client.TransactionCount(context.Background(), testAddress); err == nil {
		t.Fatal("closed client must fail")
	}
}

func TestFormatEtherRoundsToFourDecimals(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234567890000000000", 10)
	if got := web3.FormatEther(wei); got != "1.2346" {
		t.Fatalf("unexpected format %s", got)
	}
	if got := web3.FormatEther(nil); got != "0.0000" {
		t.Fatalf("unexpected nil format %s", got)
	}
}

var _ web3.Client = (*Client)(nil)
