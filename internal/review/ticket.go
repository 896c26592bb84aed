// Package review 保存被治理闸门拦下的步骤，并在人工批准后执行它们。
package review

import (
	"context"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
)

// Status 表示审核单在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Terminal 报告状态是否不再变化。
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusRejected || s == StatusFailed
}

// Ticket 描述一个等待人工审核的步骤。
type Ticket struct {
	ID        string         `json:"id"`
	Wallet    string         `json:"wallet"`
	Endpoint  string         `json:"endpoint"`
	Args      map[string]any `json:"args,omitempty"`
	Reason    string         `json:"reason"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Reviewer  string         `json:"reviewer,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// Filter 限定 List 的返回范围，零值表示不过滤。
type Filter struct {
	Wallet string
	Status Status
	Limit  int
}

// Store 抽象审核单的持久化。
type Store interface {
	Create(ctx context.Context, ticket *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context, filter Filter) ([]Ticket, error)
	// Transition 仅当当前状态为 from 时写入 ticket 的新状态与结果字段。
	Transition(ctx context.Context, ticket Ticket, from Status) error
}

var (
	// ErrTicketNotFound 表示审核单不存在。
	ErrTicketNotFound = apperrors.New(apperrors.CodeNotFound, "review ticket not found")
	// ErrTicketConflict 表示审核单当前状态不允许该操作。
	ErrTicketConflict = apperrors.New(apperrors.CodeConflict, "review ticket conflict", apperrors.WithSeverity(apperrors.SeverityWarning))
)

func cloneTicket(t *Ticket) *Ticket {
	clone := *t
	if t.Args != nil {
		clone.Args = make(map[string]any, len(t.Args))
		for k, v := range t.Args {
			clone.Args[k] = v
		}
	}
	return &clone
}

func nowUnix(now func() time.Time) int64 {
	return now().Unix()
}
