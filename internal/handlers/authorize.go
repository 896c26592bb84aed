package handlers

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/storage"
)

// 授权类型
const (
	KindWalletSignature = "wallet_signature"
	KindOAuth           = "oauth"
)

func (h *handlers) paymentSend(_ context.Context, call executor.Call) (executor.Authorization, error) {
	if err := required(call, "recipient"); err != nil {
		return executor.Authorization{}, err
	}
	amount, ok := call.Number("amount")
	if !ok || amount <= 0 {
		return executor.Authorization{}, invalid(call, "amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(call.Text("currency")))
	if currency == "" {
		currency = "ETH"
	}
	return executor.Authorization{
		Kind:   KindWalletSignature,
		Detail: "wallet signature",
		Data: map[string]any{
			"from":      call.Session.Wallet,
			"recipient": strings.TrimSpace(call.Text("recipient")),
			"amount":    amount,
			"currency":  currency,
		},
	}, nil
}

// ledgerAnchor 为笔记写入待签名的账本条目。未指定 note_id 时锚定最新的笔记。
func (h *handlers) ledgerAnchor(ctx context.Context, call executor.Call) (executor.Authorization, error) {
	store, err := h.store()
	if err != nil {
		return executor.Authorization{}, err
	}
	var note storage.Note
	if id := strings.TrimSpace(call.Text("note_id")); id != "" {
		note, err = store.GetNote(ctx, call.Session.Wallet, id)
		if err != nil {
			return executor.Authorization{}, err
		}
	} else {
		latest, err := store.ListNotes(ctx, call.Session.Wallet, 1)
		if err != nil {
			return executor.Authorization{}, err
		}
		if len(latest) == 0 {
			return executor.Authorization{}, invalid(call, "note_id")
		}
		note = latest[0]
	}

	entry := storage.LedgerEntry{
		ID:        h.deps.NewID(),
		Wallet:    call.Session.Wallet,
		Kind:      "note",
		Reference: note.ID,
		Digest:    crypto.Keccak256Hash([]byte(note.Title), []byte{0}, []byte(note.Body)).Hex(),
		Status:    storage.LedgerPending,
		CreatedAt: h.deps.Clock().UTC(),
	}
	if err := store.AppendLedger(ctx, entry); err != nil {
		return executor.Authorization{}, err
	}
	return executor.Authorization{
		Kind:   KindWalletSignature,
		Detail: "wallet signature",
		Data: map[string]any{
			"ledger_entry_id": entry.ID,
			"note_id":         note.ID,
			"digest":          entry.Digest,
		},
	}, nil
}

func (h *handlers) spotifyPlay(ctx context.Context, call executor.Call) (executor.Authorization, error) {
	auth, err := h.oauth(ctx, call, "spotify")
	if err != nil {
		return auth, err
	}
	if q := strings.TrimSpace(call.Text("query")); q != "" {
		auth.Data["query"] = q
	}
	return auth, nil
}

func (h *handlers) spotifyPlaylists(ctx context.Context, call executor.Call) (executor.Authorization, error) {
	auth, err := h.oauth(ctx, call, "spotify")
	if err != nil {
		return auth, err
	}
	auth.Data["limit"] = call.Int("limit", storage.DefaultListLimit)
	return auth, nil
}

// oauth 报告调用方是否已在凭据库中保存该提供方的令牌。
func (h *handlers) oauth(ctx context.Context, call executor.Call, provider string) (executor.Authorization, error) {
	connected := false
	if h.deps.Vault != nil {
		has, err := h.deps.Vault.Has(ctx, call.Session.Wallet, provider)
		if err != nil {
			return executor.Authorization{}, err
		}
		connected = has
	}
	return executor.Authorization{
		Kind:     KindOAuth,
		Provider: provider,
		Detail:   "OAuth",
		Data:     map[string]any{"connected": connected},
	}, nil
}
