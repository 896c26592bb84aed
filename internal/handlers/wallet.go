package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/web3"
)

func (h *handlers) chain() (web3.Client, error) {
	if h.deps.Chains == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "no chain provider is configured")
	}
	return h.deps.Chains.DefaultClient()
}

// targetAddress 优先使用 address 参数，缺省时使用会话钱包。
func targetAddress(call executor.Call) (string, error) {
	addr := strings.TrimSpace(call.Text("address"))
	if addr == "" {
		addr = call.Session.Wallet
	}
	if !common.IsHexAddress(addr) {
		return "", &apperrors.ValidationError{Endpoint: call.Endpoint.Key, Invalid: []string{"address"}}
	}
	return common.HexToAddress(addr).Hex(), nil
}

func (h *handlers) walletBalance(ctx context.Context, call executor.Call) (executor.Result, error) {
	addr, err := targetAddress(call)
	if err != nil {
		return executor.Result{}, err
	}
	client, err := h.chain()
	if err != nil {
		return executor.Result{}, err
	}
	wei, err := client.Balance(ctx, addr)
	if err != nil {
		return executor.Result{}, err
	}
	ether := web3.FormatEther(wei)
	return executor.Result{
		Message: fmt.Sprintf("Your balance is %s ETH", ether),
		Data:    map[string]any{"address": addr, "wei": wei.String(), "ether": ether},
	}, nil
}

func (h *handlers) walletTransactionCount(ctx context.Context, call executor.Call) (executor.Result, error) {
	addr, err := targetAddress(call)
	if err != nil {
		return executor.Result{}, err
	}
	client, err := h.chain()
	if err != nil {
		return executor.Result{}, err
	}
	count, err := client.TransactionCount(ctx, addr)
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{
		Message: fmt.Sprintf("%s has sent %s", addr, plural(int(count), "transaction")),
		Data:    map[string]any{"address": addr, "count": count},
	}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
