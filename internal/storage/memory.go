package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "OpenMCP-Intent/internal/errors"
)

// MemoryStore 以内存方式保存实体，主要用于开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	notes    []Note
	ledger   []LedgerEntry
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func sameWallet(a, b string) bool {
	return strings.EqualFold(a, b)
}

// SaveMessage 实现 Store 接口。
func (m *MemoryStore) SaveMessage(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "消息 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// ListMessages 实现 Store 接口。
func (m *MemoryStore) ListMessages(_ context.Context, wallet string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for _, msg := range m.messages {
		if sameWallet(msg.Wallet, wallet) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// SaveNote 实现 Store 接口。
func (m *MemoryStore) SaveNote(_ context.Context, note Note) error {
	if strings.TrimSpace(note.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "笔记 ID 不能为空")
	}
	note.Tags = append([]string(nil), note.Tags...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, note)
	return nil
}

// GetNote 实现 Store 接口。
func (m *MemoryStore) GetNote(_ context.Context, wallet, id string) (Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, note := range m.notes {
		if note.ID == id && sameWallet(note.Wallet, wallet) {
			note.Tags = append([]string(nil), note.Tags...)
			return note, nil
		}
	}
	return Note{}, ErrNoteNotFound
}

// ListNotes 实现 Store 接口。
func (m *MemoryStore) ListNotes(_ context.Context, wallet string, limit int) ([]Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Note
	for _, note := range m.notes {
		if sameWallet(note.Wallet, wallet) {
			note.Tags = append([]string(nil), note.Tags...)
			out = append(out, note)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// AppendLedger 实现 Store 接口。
func (m *MemoryStore) AppendLedger(_ context.Context, entry LedgerEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "账本条目 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, entry)
	return nil
}

// ListLedger 实现 Store 接口。
func (m *MemoryStore) ListLedger(_ context.Context, wallet string, limit int) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LedgerEntry
	for _, entry := range m.ledger {
		if sameWallet(entry.Wallet, wallet) {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func truncate[T any](items []T, limit int) []T {
	limit = NormalizeLimit(limit)
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
