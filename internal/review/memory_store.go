package review

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
)

// MemoryStore 以内存方式保存审核单。
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*Ticket)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, ticket *Ticket) error {
	if ticket == nil || strings.TrimSpace(ticket.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "审核单 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[ticket.ID]; ok {
		return ErrTicketConflict
	}
	if ticket.CreatedAt == 0 {
		ticket.CreatedAt = time.Now().Unix()
	}
	if ticket.UpdatedAt == 0 {
		ticket.UpdatedAt = ticket.CreatedAt
	}
	m.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ticket, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

// List 实现 Store 接口，按创建时间倒序。
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ticket, 0, len(m.tickets))
	for _, ticket := range m.tickets {
		if filter.Wallet != "" && !strings.EqualFold(ticket.Wallet, filter.Wallet) {
			continue
		}
		if filter.Status != "" && ticket.Status != filter.Status {
			continue
		}
		out = append(out, *cloneTicket(ticket))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition 实现 Store 接口。
func (m *MemoryStore) Transition(_ context.Context, ticket Ticket, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tickets[ticket.ID]
	if !ok {
		return ErrTicketNotFound
	}
	if current.Status != from {
		return ErrTicketConflict
	}
	current.Status = ticket.Status
	current.Message = ticket.Message
	current.ErrorCode = ticket.ErrorCode
	current.Reviewer = ticket.Reviewer
	current.UpdatedAt = ticket.UpdatedAt
	return nil
}
