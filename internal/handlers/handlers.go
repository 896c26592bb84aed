// Package handlers 为默认目录中的 endpoint 提供具体的 handler 表。
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Intent/internal/content"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/knowledge"
	"OpenMCP-Intent/internal/storage"
	"OpenMCP-Intent/internal/vault"
	"OpenMCP-Intent/internal/web3"
)

// ChainSource 提供默认链客户端，provider.Registry 实现了该接口。
type ChainSource interface {
	DefaultClient() (web3.Client, error)
}

// Deps 是 handler 依赖的外部组件，缺失的组件会让对应 handler 返回执行错误。
type Deps struct {
	Chains    ChainSource
	Store     storage.Store
	Vault     *vault.Vault
	Knowledge knowledge.Provider
	Content   content.Fetcher
	// Reload 使目录缓存失效并重建，返回重建后的 endpoint 数量。
	Reload func(ctx context.Context) (int, error)
	Clock  func() time.Time
	NewID  func() string
}

// Tables 构建默认的三张 handler 表。news.headlines.get 故意不注册。
func Tables(d Deps) executor.Tables {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	h := &handlers{deps: d}
	return executor.Tables{
		Direct: map[string]executor.DirectHandler{
			"wallet.balance.get":          h.walletBalance,
			"wallet.transactions.count":   h.walletTransactionCount,
			"knowledge.topic.get":         h.knowledgeTopic,
			"knowledge.wikipedia.summary": h.wikipediaSummary,
			"system.time.now":             h.timeNow,
			"system.session.get":          h.sessionInfo,
			"admin.catalog.reload":        h.catalogReload,
		},
		Storage: map[string]executor.StorageHandler{
			"messages.send":       h.messageSend,
			"messages.list":       h.messageList,
			"notes.create":        h.noteCreate,
			"notes.list":          h.noteList,
			"ledger.entries.list": h.ledgerList,
		},
		AuthRequired: map[string]executor.AuthRequiredHandler{
			"payments.send":          h.paymentSend,
			"ledger.anchor":          h.ledgerAnchor,
			"spotify.playback.play":  h.spotifyPlay,
			"spotify.playlists.list": h.spotifyPlaylists,
		},
	}
}

type handlers struct {
	deps Deps
}

func (h *handlers) store() (storage.Store, error) {
	if h.deps.Store == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "storage is not configured")
	}
	return h.deps.Store, nil
}

// required 返回空参数名列表对应的校验错误。
func required(call executor.Call, names ...string) error {
	var missing []string
	for _, name := range names {
		if strings.TrimSpace(call.Text(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &apperrors.ValidationError{Endpoint: call.Endpoint.Key, Invalid: missing}
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return itoa(n) + " " + word + "s"
}
