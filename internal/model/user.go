// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証に関わるユーザーの永続レコード（クレデンシャルレコード）を表す。
// パスワードハッシュ、検証フラグ、ロックアウト状態を1行で保持する。
type User struct {
	ID           int64
	Username     string
	Email        string
	Phone        string // 任意。空文字列は未登録を表す。
	PasswordHash string

	EmailVerified               bool
	SMSVerified                 bool
	EmailVerificationTokenHash  string
	EmailVerificationExpiresAt  *time.Time
	EmailVerificationLastSentAt *time.Time
	SMSVerificationCode         string

	PasswordResetTokenHash string
	PasswordResetExpiresAt *time.Time

	LoginAttempts int
	LockoutUntil  *time.Time

	IsAdmin bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLockedAt は指定時刻においてアカウントがロックアウト中かどうかを返す。
// LockoutUntilが経過している場合はロック解除済みとして扱う。
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// PhoneVerificationPending は電話番号が登録済みかつ未検証かどうかを返す。
func (u *User) PhoneVerificationPending() bool {
	return u.Phone != "" && !u.SMSVerified
}

// Session はユーザーのログインセッションを表す。
// IDは暗号的に安全なランダム値で、HTTP Only Cookieを通じてクライアントに渡される。
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// MagicCode はパスワードレスログイン用の一時エントリを表す。
// リクエストトークンをキーとし、検証の試行1回（成否を問わず）で破棄される。
type MagicCode struct {
	Token     string
	Email     string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuditLog はセキュリティ監査ログの1エントリを表す。
// 一度書き込まれた後は更新・削除されない（append-only）。
type AuditLog struct {
	ID         string
	UserID     *int64 // 匿名リクエスト・失敗試行の場合はnil
	Username   string
	Action     string
	EntityType string
	EntityID   string
	Status     string
	IPAddress  string
	UserAgent  string
	Details    map[string]any
	CreatedAt  time.Time
}

// Identity はリクエストの認証結果を表すタグ付きバリアント。
// Authenticatedがfalseの場合は匿名リクエストであり、他のフィールドはゼロ値。
type Identity struct {
	Authenticated bool
	UserID        int64
	Username      string
	IsAdmin       bool
}

// Anonymous は匿名のIdentityを返す。
func Anonymous() Identity {
	return Identity{}
}

// AuthenticatedIdentity は認証済みのIdentityを生成する。
func AuthenticatedIdentity(userID int64, username string, isAdmin bool) Identity {
	return Identity{
		Authenticated: true,
		UserID:        userID,
		Username:      username,
		IsAdmin:       isAdmin,
	}
}
