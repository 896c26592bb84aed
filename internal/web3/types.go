package web3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Name        string `json:"name,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read-only chain operations wallet handlers depend on.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	Close()
}

// FormatEther renders a wei amount as ether with four decimals.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0000"
	}
	value := new(big.Float).SetInt(wei)
	value.Quo(value, new(big.Float).SetInt64(params.Ether))
	return fmt.Sprintf("%.4f", value)
}
