package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/storage"
)

// Store 使用 MySQL 保存消息、笔记、账本条目、审核单与凭证。
type Store struct {
	db *sql.DB
}

// New 创建连接池并执行迁移。
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "初始化 MySQL 失败")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "执行迁移失败")
	}
	return &Store{db: db}, nil
}

// NewWithDB 使用已有连接创建 Store，不执行迁移。
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const (
	insertMessageSQL = `INSERT INTO messages (id, wallet, recipient, body, created_at) VALUES (?, ?, ?, ?, ?)`
	listMessagesSQL  = `SELECT id, wallet, recipient, body, created_at FROM messages
    WHERE wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	insertNoteSQL = `INSERT INTO notes (id, wallet, title, body, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	getNoteSQL    = `SELECT id, wallet, title, body, tags, created_at FROM notes WHERE id = ? AND wallet = ?`
	listNotesSQL  = `SELECT id, wallet, title, body, tags, created_at FROM notes
    WHERE wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	insertLedgerSQL = `INSERT INTO ledger_entries (id, wallet, kind, reference, digest, status, chain_id, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	listLedgerSQL = `SELECT id, wallet, kind, reference, digest, status, chain_id, created_at FROM ledger_entries
    WHERE wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?`
)

// SaveMessage 实现 storage.Store。
func (s *Store) SaveMessage(ctx context.Context, msg storage.Message) error {
	_, err := s.db.ExecContext(ctx, insertMessageSQL,
		msg.ID, walletKey(msg.Wallet), msg.Recipient, msg.Body, msg.CreatedAt.UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存消息失败")
	}
	return nil
}

// ListMessages 实现 storage.Store。
func (s *Store) ListMessages(ctx context.Context, wallet string, limit int) ([]storage.Message, error) {
	rows, err := s.db.QueryContext(ctx, listMessagesSQL, walletKey(wallet), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询消息失败")
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		var (
			msg     storage.Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.Wallet, &msg.Recipient, &msg.Body, &created); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析消息失败")
		}
		msg.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历消息失败")
	}
	return out, nil
}

// SaveNote 实现 storage.Store。
func (s *Store) SaveNote(ctx context.Context, note storage.Note) error {
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "编码笔记标签失败")
	}
	_, err = s.db.ExecContext(ctx, insertNoteSQL,
		note.ID, walletKey(note.Wallet), note.Title, note.Body, string(tags), note.CreatedAt.UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存笔记失败")
	}
	return nil
}

// GetNote 实现 storage.Store。
func (s *Store) GetNote(ctx context.Context, wallet, id string) (storage.Note, error) {
	row := s.db.QueryRowContext(ctx, getNoteSQL, id, walletKey(wallet))
	note, err := scanNote(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return storage.Note{}, storage.ErrNoteNotFound
		}
		return storage.Note{}, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询笔记失败")
	}
	return note, nil
}

// ListNotes 实现 storage.Store。
func (s *Store) ListNotes(ctx context.Context, wallet string, limit int) ([]storage.Note, error) {
	rows, err := s.db.QueryContext(ctx, listNotesSQL, walletKey(wallet), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询笔记失败")
	}
	defer rows.Close()

	var out []storage.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析笔记失败")
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历笔记失败")
	}
	return out, nil
}

// AppendLedger 实现 storage.Store。
func (s *Store) AppendLedger(ctx context.Context, entry storage.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, insertLedgerSQL,
		entry.ID, walletKey(entry.Wallet), entry.Kind, entry.Reference, entry.Digest, string(entry.Status), entry.ChainID, entry.CreatedAt.UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入账本失败")
	}
	return nil
}

// ListLedger 实现 storage.Store。
func (s *Store) ListLedger(ctx context.Context, wallet string, limit int) ([]storage.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, listLedgerSQL, walletKey(wallet), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询账本失败")
	}
	defer rows.Close()

	var out []storage.LedgerEntry
	for rows.Next() {
		var (
			entry   storage.LedgerEntry
			status  string
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.Wallet, &entry.Kind, &entry.Reference, &entry.Digest, &status, &entry.ChainID, &created); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析账本失败")
		}
		entry.Status = storage.LedgerStatus(status)
		entry.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历账本失败")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (storage.Note, error) {
	var (
		note    storage.Note
		tags    sql.NullString
		created int64
	)
	if err := row.Scan(&note.ID, &note.Wallet, &note.Title, &note.Body, &tags, &created); err != nil {
		return storage.Note{}, err
	}
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &note.Tags); err != nil {
			return storage.Note{}, fmt.Errorf("解析笔记标签失败: %w", err)
		}
	}
	note.CreatedAt = time.UnixMilli(created).UTC()
	return note, nil
}

func walletKey(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

var _ storage.Store = (*Store)(nil)
