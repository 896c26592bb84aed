package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/review"
)

const (
	insertTicketSQL = `INSERT INTO review_tickets
    (id, wallet, endpoint, args, reason, status, message, error_code, reviewer, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`
	selectTicketColumns = `SELECT id, wallet, endpoint, args, reason, status, message, error_code, reviewer, created_at, updated_at
    FROM review_tickets`
	transitionTicketSQL = `UPDATE review_tickets SET status = ?, message = ?, error_code = ?, reviewer = ?, updated_at = ?
    WHERE id = ? AND status = ?`
)

// ReviewStore 返回实现 review.Store 的视图。
func (s *Store) ReviewStore() review.Store {
	return reviewStore{db: s.db}
}

type reviewStore struct {
	db *sql.DB
}

// Create 插入新的审核单。
func (r reviewStore) Create(ctx context.Context, ticket *review.Ticket) error {
	if ticket == nil || strings.TrimSpace(ticket.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "审核单 ID 不能为空")
	}
	args, err := json.Marshal(ticket.Args)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "编码审核单参数失败")
	}
	_, err = r.db.ExecContext(ctx, insertTicketSQL,
		ticket.ID, walletKey(ticket.Wallet), ticket.Endpoint, string(args), ticket.Reason, string(ticket.Status),
		ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return review.ErrTicketConflict
		}
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "插入审核单失败")
	}
	return nil
}

// Get 查询指定审核单。
func (r reviewStore) Get(ctx context.Context, id string) (*review.Ticket, error) {
	row := r.db.QueryRowContext(ctx, selectTicketColumns+` WHERE id = ?`, id)
	ticket, err := scanTicket(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, review.ErrTicketNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询审核单失败")
	}
	return ticket, nil
}

// List 按条件列出审核单。
func (r reviewStore) List(ctx context.Context, filter review.Filter) ([]review.Ticket, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Wallet != "" {
		clauses = append(clauses, "wallet = ?")
		args = append(args, walletKey(filter.Wallet))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := selectTicketColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询审核单失败")
	}
	defer rows.Close()

	var out []review.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析审核单失败")
		}
		out = append(out, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历审核单失败")
	}
	return out, nil
}

// Transition 以状态作为乐观锁更新审核单。
func (r reviewStore) Transition(ctx context.Context, ticket review.Ticket, from review.Status) error {
	res, err := r.db.ExecContext(ctx, transitionTicketSQL,
		string(ticket.Status), ticket.Message, ticket.ErrorCode, ticket.Reviewer, ticket.UpdatedAt, ticket.ID, string(from))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "更新审核单失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, ticket.ID); getErr != nil {
			return getErr
		}
		return review.ErrTicketConflict
	}
	return nil
}

func scanTicket(row scanner) (*review.Ticket, error) {
	var (
		ticket  review.Ticket
		args    sql.NullString
		status  string
		message sql.NullString
	)
	if err := row.Scan(&ticket.ID, &ticket.Wallet, &ticket.Endpoint, &args, &ticket.Reason, &status,
		&message, &ticket.ErrorCode, &ticket.Reviewer, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return nil, err
	}
	ticket.Status = review.Status(status)
	ticket.Message = message.String
	if args.Valid && args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &ticket.Args); err != nil {
			return nil, err
		}
	}
	return &ticket, nil
}
