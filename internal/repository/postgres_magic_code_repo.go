package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/selahapp/identity/internal/model"
)

// PostgresMagicCodeRepo はPostgreSQLを使用したマジックコードリポジトリ。
// 外部共有ストアとして機能し、複数インスタンス構成でもエントリを共有できる。
type PostgresMagicCodeRepo struct {
	db *sql.DB
}

// NewPostgresMagicCodeRepo はPostgresMagicCodeRepoを生成する。
func NewPostgresMagicCodeRepo(db *sql.DB) *PostgresMagicCodeRepo {
	return &PostgresMagicCodeRepo{db: db}
}

// Create はマジックコードエントリを作成する。
func (r *PostgresMagicCodeRepo) Create(ctx context.Context, entry *model.MagicCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO magic_codes (token, email, code, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Token, entry.Email, entry.Code, entry.ExpiresAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create magic code entry: %w", err)
	}
	return nil
}

// FindByToken はリクエストトークンでエントリを取得する。見つからない場合はnilを返す。
// 有効期限の判定は呼び出し元で行う（期限切れエントリも削除対象として返す必要がある）。
func (r *PostgresMagicCodeRepo) FindByToken(ctx context.Context, token string) (*model.MagicCode, error) {
	entry := &model.MagicCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, email, code, expires_at, created_at
		 FROM magic_codes
		 WHERE token = $1`,
		token,
	).Scan(&entry.Token, &entry.Email, &entry.Code, &entry.ExpiresAt, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find magic code entry: %w", err)
	}

	return entry, nil
}

// DeleteByToken は指定トークンのエントリを削除する。
func (r *PostgresMagicCodeRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM magic_codes WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to delete magic code entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MagicCodeRepository = (*PostgresMagicCodeRepo)(nil)
