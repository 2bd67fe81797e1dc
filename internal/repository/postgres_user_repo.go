package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/selahapp/identity/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// userColumns はユーザー取得クエリで選択するカラムの一覧。
const userColumns = `id, username, email, phone, password_hash,
	email_verified, sms_verified,
	email_verification_token_hash, email_verification_expires_at, email_verification_last_sent_at,
	sms_verification_code,
	password_reset_token_hash, password_reset_expires_at,
	login_attempts, lockout_until, is_admin, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したクレデンシャルレコードリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var (
		phone             sql.NullString
		emailTokenHash    sql.NullString
		emailTokenExpires sql.NullTime
		emailLastSent     sql.NullTime
		smsCode           sql.NullString
		resetTokenHash    sql.NullString
		resetExpires      sql.NullTime
		lockoutUntil      sql.NullTime
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &phone, &user.PasswordHash,
		&user.EmailVerified, &user.SMSVerified,
		&emailTokenHash, &emailTokenExpires, &emailLastSent,
		&smsCode,
		&resetTokenHash, &resetExpires,
		&user.LoginAttempts, &lockoutUntil, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Phone = phone.String
	user.EmailVerificationTokenHash = emailTokenHash.String
	user.SMSVerificationCode = smsCode.String
	if emailTokenExpires.Valid {
		user.EmailVerificationExpiresAt = &emailTokenExpires.Time
	}
	if emailLastSent.Valid {
		user.EmailVerificationLastSentAt = &emailLastSent.Time
	}
	user.PasswordResetTokenHash = resetTokenHash.String
	if resetExpires.Valid {
		user.PasswordResetExpiresAt = &resetExpires.Time
	}
	if lockoutUntil.Valid {
		user.LockoutUntil = &lockoutUntil.Time
	}

	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByIdentifier はユーザー名またはメールアドレスでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`, identifier)
	return scanUser(row)
}

// FindByEmailVerificationTokenHash はメール検証トークンのハッシュでユーザーを検索する。
func (r *PostgresUserRepo) FindByEmailVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email_verification_token_hash = $1`, tokenHash)
	return scanUser(row)
}

// FindByPasswordResetTokenHash はパスワードリセットトークンのハッシュでユーザーを検索する。
func (r *PostgresUserRepo) FindByPasswordResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE password_reset_token_hash = $1`, tokenHash)
	return scanUser(row)
}

// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
// 一意制約違反はDUPLICATE_RESOURCEのAPIErrorに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, phone, password_hash, is_admin, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		 RETURNING id`,
		user.Username, user.Email, user.Phone, user.PasswordHash, user.IsAdmin,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return model.NewDuplicateResourceError(duplicateField(pqErr))
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// duplicateField は一意制約違反から重複したフィールド名を判定する。
func duplicateField(pqErr *pq.Error) string {
	switch pqErr.Constraint {
	case "users_username_key":
		return "ユーザー名"
	case "users_email_key":
		return "メールアドレス"
	default:
		return "値"
	}
}

// RecordLoginFailure はログイン失敗を記録する。
// インクリメントとロックアウト判定を単一のUPDATE文で行い、
// 並行する失敗試行でカウントが欠落しないようにする。
func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, id int64, maxAttempts int, lockoutDuration time.Duration) (int, *time.Time, error) {
	var (
		attempts     int
		lockoutUntil sql.NullTime
	)

	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET login_attempts = login_attempts + 1,
		     lockout_until = CASE
		         WHEN login_attempts + 1 >= $2 THEN now() + $3 * interval '1 second'
		         ELSE lockout_until
		     END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING login_attempts, lockout_until`,
		id, maxAttempts, int64(lockoutDuration.Seconds()),
	).Scan(&attempts, &lockoutUntil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to record login failure: %w", err)
	}

	if lockoutUntil.Valid {
		return attempts, &lockoutUntil.Time, nil
	}
	return attempts, nil, nil
}

// ResetLoginState は認証成功時にカウンタとロックアウトをクリアする。
func (r *PostgresUserRepo) ResetLoginState(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_attempts = 0, lockout_until = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login state: %w", err)
	}
	return nil
}

// SetLockout はロックアウト解除時刻を直接設定する（untilがnilの場合はクリア）。
func (r *PostgresUserRepo) SetLockout(ctx context.Context, id int64, until *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET lockout_until = $2,
		     login_attempts = CASE WHEN $2::timestamptz IS NULL THEN 0 ELSE login_attempts END,
		     updated_at = now()
		 WHERE id = $1`,
		id, until,
	)
	if err != nil {
		return fmt.Errorf("failed to set lockout: %w", err)
	}
	return nil
}

// SetEmailVerificationToken はメール検証トークンのハッシュ・有効期限・送信時刻を設定する。
func (r *PostgresUserRepo) SetEmailVerificationToken(ctx context.Context, id int64, tokenHash string, expiresAt, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email_verification_token_hash = $2,
		     email_verification_expires_at = $3,
		     email_verification_last_sent_at = $4,
		     updated_at = now()
		 WHERE id = $1`,
		id, tokenHash, expiresAt, sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set email verification token: %w", err)
	}
	return nil
}

// MarkEmailVerified はメールアドレスを検証済みにし、保留中のトークンフィールドをクリアする。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email_verified = TRUE,
		     email_verification_token_hash = NULL,
		     email_verification_expires_at = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// SetSMSVerificationCode はSMS検証コードを設定する。
func (r *PostgresUserRepo) SetSMSVerificationCode(ctx context.Context, id int64, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET sms_verification_code = $2, updated_at = now()
		 WHERE id = $1`,
		id, code,
	)
	if err != nil {
		return fmt.Errorf("failed to set sms verification code: %w", err)
	}
	return nil
}

// MarkSMSVerified は電話番号を検証済みにし、保留中のコードをクリアする。
func (r *PostgresUserRepo) MarkSMSVerified(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET sms_verified = TRUE, sms_verification_code = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sms verified: %w", err)
	}
	return nil
}

// SetPasswordResetToken はパスワードリセットトークンのハッシュと有効期限を設定する。
func (r *PostgresUserRepo) SetPasswordResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_reset_token_hash = $2,
		     password_reset_expires_at = $3,
		     updated_at = now()
		 WHERE id = $1`,
		id, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set password reset token: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新し、リセットトークンと
// ロックアウト状態をクリアする。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = $2,
		     password_reset_token_hash = NULL,
		     password_reset_expires_at = NULL,
		     login_attempts = 0,
		     lockout_until = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
