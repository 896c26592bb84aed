package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/vault"
)

const (
	upsertCredentialSQL = `INSERT INTO credentials (wallet, provider, encrypted_blob, nonce, salt, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE encrypted_blob = VALUES(encrypted_blob), nonce = VALUES(nonce), salt = VALUES(salt), updated_at = VALUES(updated_at)`
	getCredentialSQL = `SELECT wallet, provider, encrypted_blob, nonce, salt, updated_at FROM credentials
    WHERE wallet = ? AND provider = ?`
	deleteCredentialSQL = `DELETE FROM credentials WHERE wallet = ? AND provider = ?`
)

// PutCredential 实现 vault.Store。
func (s *Store) PutCredential(ctx context.Context, rec vault.Record) error {
	_, err := s.db.ExecContext(ctx, upsertCredentialSQL,
		walletKey(rec.Wallet), strings.ToLower(rec.Provider),
		rec.Envelope.EncryptedBlob, rec.Envelope.Nonce, rec.Envelope.Salt, rec.UpdatedAt.Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存凭证失败")
	}
	return nil
}

// GetCredential 实现 vault.Store。
func (s *Store) GetCredential(ctx context.Context, wallet, provider string) (vault.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, getCredentialSQL, walletKey(wallet), strings.ToLower(provider))
	var (
		rec     vault.Record
		updated int64
	)
	err := row.Scan(&rec.Wallet, &rec.Provider, &rec.Envelope.EncryptedBlob, &rec.Envelope.Nonce, &rec.Envelope.Salt, &updated)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return vault.Record{}, false, nil
		}
		return vault.Record{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询凭证失败")
	}
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return rec, true, nil
}

// DeleteCredential 实现 vault.Store。
func (s *Store) DeleteCredential(ctx context.Context, wallet, provider string) error {
	if _, err := s.db.ExecContext(ctx, deleteCredentialSQL, walletKey(wallet), strings.ToLower(provider)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "删除凭证失败")
	}
	return nil
}

var _ vault.Store = (*Store)(nil)
