// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/selahapp/identity/internal/model"
)

// UserRepository はクレデンシャルレコードの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByIdentifier はユーザー名またはメールアドレスでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByIdentifier(ctx context.Context, identifier string) (*model.User, error)

	// FindByEmailVerificationTokenHash はメール検証トークンのハッシュでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmailVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error)

	// FindByPasswordResetTokenHash はパスワードリセットトークンのハッシュでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByPasswordResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	// ユーザー名またはメールアドレスの一意制約違反の場合は
	// *model.APIError（DUPLICATE_RESOURCE）を返す。
	Create(ctx context.Context, user *model.User) error

	// RecordLoginFailure はログイン失敗を記録する。
	// カウンタのインクリメントとロックアウト設定を単一のアトミックな
	// read-modify-writeとして実行する。同一アカウントへの並行失敗で
	// カウントが欠落しないことを保証する。
	// 戻り値は更新後の試行回数と、ロックアウトに到達した場合の解除時刻。
	RecordLoginFailure(ctx context.Context, id int64, maxAttempts int, lockoutDuration time.Duration) (attempts int, lockedUntil *time.Time, err error)

	// ResetLoginState は認証成功時にloginAttemptsを0にリセットし、
	// lockoutUntilをクリアする。
	ResetLoginState(ctx context.Context, id int64) error

	// SetLockout はロックアウト解除時刻を直接設定する（untilがnilの場合はクリア）。
	// 管理者による手動ロック・解除に使用する。
	SetLockout(ctx context.Context, id int64, until *time.Time) error

	// SetEmailVerificationToken はメール検証トークンのハッシュ・有効期限・送信時刻を設定する。
	// 既存の保留中トークンは上書きされる。
	SetEmailVerificationToken(ctx context.Context, id int64, tokenHash string, expiresAt, sentAt time.Time) error

	// MarkEmailVerified はメールアドレスを検証済みにし、保留中のトークンフィールドをクリアする。
	MarkEmailVerified(ctx context.Context, id int64) error

	// SetSMSVerificationCode はSMS検証コードを設定する。既存のコードは上書きされる。
	SetSMSVerificationCode(ctx context.Context, id int64, code string) error

	// MarkSMSVerified は電話番号を検証済みにし、保留中のコードをクリアする。
	MarkSMSVerified(ctx context.Context, id int64) error

	// SetPasswordResetToken はパスワードリセットトークンのハッシュと有効期限を設定する。
	SetPasswordResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error

	// UpdatePassword はパスワードハッシュを更新し、リセットトークンフィールドと
	// ロックアウト状態をクリアする。
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はスライディング有効期限を延長する。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
}

// MagicCodeRepository はマジックコードエントリの永続化インターフェース。
// プロセスメモリではなく外部共有ストアに保存し、複数インスタンス構成でも
// 正しく動作するよう注入可能な依存として扱う。
type MagicCodeRepository interface {
	// Create はマジックコードエントリを作成する。
	Create(ctx context.Context, entry *model.MagicCode) error
	// FindByToken はリクエストトークンでエントリを取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.MagicCode, error)
	// DeleteByToken は指定トークンのエントリを削除する。
	DeleteByToken(ctx context.Context, token string) error
}

// AuditLogRepository は監査ログの永続化インターフェース。
// エントリは追記のみで、更新・削除のメソッドは提供しない。
type AuditLogRepository interface {
	// Create は監査ログエントリを追記する。
	Create(ctx context.Context, entry *model.AuditLog) error
}
