// Package storage 持久化存储层 handler 使用的实体：消息、笔记与账本条目。
package storage

import (
	"context"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
)

// Message 是钱包发出的一条消息。
type Message struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Note 是钱包保存的笔记。
type Note struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerStatus 是账本条目的锚定状态。
type LedgerStatus string

const (
	LedgerPending  LedgerStatus = "pending"
	LedgerAnchored LedgerStatus = "anchored"
)

// LedgerEntry 记录一次需要上链锚定的操作。
type LedgerEntry struct {
	ID        string       `json:"id"`
	Wallet    string       `json:"wallet"`
	Kind      string       `json:"kind"`
	Reference string       `json:"reference"`
	Digest    string       `json:"digest"`
	Status    LedgerStatus `json:"status"`
	ChainID   string       `json:"chain_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store 是存储层 handler 依赖的持久化接口。List 方法按创建时间倒序返回。
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, wallet string, limit int) ([]Message, error)
	SaveNote(ctx context.Context, note Note) error
	GetNote(ctx context.Context, wallet, id string) (Note, error)
	ListNotes(ctx context.Context, wallet string, limit int) ([]Note, error)
	AppendLedger(ctx context.Context, entry LedgerEntry) error
	ListLedger(ctx context.Context, wallet string, limit int) ([]LedgerEntry, error)
	Close() error
}

// DefaultListLimit 是未指定 limit 时返回的条数。
const DefaultListLimit = 20

// ErrNoteNotFound 表示笔记不存在或不属于该钱包。
var ErrNoteNotFound = apperrors.New(apperrors.CodeNotFound, "note not found")

// NormalizeLimit 将非正数或过大的 limit 调整到合法范围。
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}
