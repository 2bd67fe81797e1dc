package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/selahapp/identity/internal/audit"
	"github.com/selahapp/identity/internal/delivery"
	"github.com/selahapp/identity/internal/metrics"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/repository"
	"github.com/selahapp/identity/internal/security"
)

// PasswordResetConfig はPasswordResetServiceの動作設定。
type PasswordResetConfig struct {
	BaseURL  string
	TokenTTL time.Duration
}

// PasswordResetService はメール経由のパスワードリセットを提供する。
// リセット用トークンはハッシュのみを保存し、平文はメールでのみ渡す。
type PasswordResetService struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	hasher    *security.PasswordHasher
	mailer    delivery.Mailer
	templates *delivery.Templates
	audit     AuditRecorder
	metrics   metrics.MetricsCollector
	config    PasswordResetConfig
}

// NewPasswordResetService はPasswordResetServiceを生成する。
func NewPasswordResetService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	mailer delivery.Mailer,
	templates *delivery.Templates,
	auditRecorder AuditRecorder,
	collector metrics.MetricsCollector,
	cfg PasswordResetConfig,
) *PasswordResetService {
	return &PasswordResetService{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		mailer:    mailer,
		templates: templates,
		audit:     auditRecorder,
		metrics:   collector,
		config:    cfg,
	}
}

// Request はパスワードリセット用トークンを発行し、リセットリンクをメールで送る。
// 登録されていないメールアドレスの場合はエラーを返す。
func (s *PasswordResetService) Request(ctx context.Context, email string, meta RequestMeta) error {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	token, err := security.GenerateToken()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(s.config.TokenTTL)
	if err := s.users.SetPasswordResetToken(ctx, user.ID, security.HashToken(token), expiresAt); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/auth/reset-password?token=%s", strings.TrimRight(s.config.BaseURL, "/"), token)
	subject, body := s.templates.PasswordResetEmail(user.Username, link)
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		slog.Error("failed to send password reset email",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMailSent("password_reset", false)
	} else {
		s.metrics.RecordMailSent("password_reset", true)
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionPasswordResetRequest,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return nil
}

// Confirm はリセットトークンを照合して新しいパスワードを設定する。
// 成功時はロックアウト状態をクリアし、既存の全セッションを破棄する。
func (s *PasswordResetService) Confirm(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	if len(newPassword) < 8 {
		return model.NewValidationError("パスワードは8文字以上にしてください")
	}
	if token == "" {
		return model.NewInvalidOrExpiredTokenError("missing token")
	}

	user, err := s.users.FindByPasswordResetTokenHash(ctx, security.HashToken(token))
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewInvalidOrExpiredTokenError("unknown token")
	}
	if user.PasswordResetExpiresAt == nil || time.Now().After(*user.PasswordResetExpiresAt) {
		return model.NewInvalidOrExpiredTokenError("expired")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	// パスワード変更後は既存のログインを全て無効化する
	if err := s.sessions.DeleteByUserID(ctx, user.ID); err != nil {
		slog.Error("failed to revoke sessions after password reset",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionPasswordChange,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    map[string]any{"via": "password_reset"},
	})

	return nil
}
