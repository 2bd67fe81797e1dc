// Package audit はセキュリティ監査ログの記録を提供する。
//
// Recorderはfire-and-forget契約に従う: 記録の内部失敗（ストア障害、
// シリアライズエラー）は運用ログに出力するのみで、監査対象である
// ユーザー向け操作を決して失敗させない。
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/repository"
)

// セキュリティイベントのアクション種別。
const (
	ActionLogin                = "login"
	ActionLoginFailed          = "login_failed"
	ActionLogout               = "logout"
	ActionRegister             = "register"
	ActionPasswordChange       = "password_change"
	ActionPasswordResetRequest = "password_reset_request"
	ActionEmailVerified        = "email_verified"
	ActionSMSVerified          = "sms_verified"
	ActionMagicCodeRequest     = "magic_code_request"
	ActionMagicLogin           = "magic_login"
	ActionAdminAction          = "admin_action"
	ActionUserBlock            = "user_block"
)

// イベントの結果ステータス。
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusBlocked = "blocked"
)

// Event は記録対象のセキュリティイベント。
type Event struct {
	UserID     *int64 // 匿名・失敗試行の場合はnil
	Username   string
	Action     string
	EntityType string
	EntityID   string
	Status     string
	IP         string
	UserAgent  string
	Details    map[string]any
}

// Recorder はセキュリティイベントを監査ログに記録する。
type Recorder struct {
	repo repository.AuditLogRepository
}

// NewRecorder はRecorderを生成する。
func NewRecorder(repo repository.AuditLogRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record はイベントを監査ログに記録する。
// 失敗しても呼び出し元にエラーを返さない。リクエストがキャンセル済みでも
// 記録は完了させるため、キャンセルを切り離したコンテキストで書き込む。
func (r *Recorder) Record(ctx context.Context, event Event) {
	entry := &model.AuditLog{
		ID:         uuid.New().String(),
		UserID:     event.UserID,
		Username:   event.Username,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Status:     event.Status,
		IPAddress:  event.IP,
		UserAgent:  event.UserAgent,
		Details:    event.Details,
		CreatedAt:  time.Now(),
	}

	if err := r.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("failed to record audit event",
			slog.String("action", event.Action),
			slog.String("status", event.Status),
			slog.String("error", err.Error()),
		)
	}
}
