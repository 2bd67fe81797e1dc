package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
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

// VerificationConfig はVerificationServiceの動作設定。
type VerificationConfig struct {
	BaseURL        string
	EmailTokenTTL  time.Duration
	ResendCooldown time.Duration
}

// VerificationService はメールアドレスと電話番号の所有確認を提供する。
//
// メール検証は不透明トークンのハッシュのみを保存し、平文トークンは
// 確認リンクとしてメールでのみ渡す。SMS検証は6桁コードを平文のまま
// 保存し、定数時間比較で照合する。
type VerificationService struct {
	users     repository.UserRepository
	mailer    delivery.Mailer
	sms       delivery.SMSSender
	templates *delivery.Templates
	audit     AuditRecorder
	metrics   metrics.MetricsCollector
	config    VerificationConfig
}

// NewVerificationService はVerificationServiceを生成する。
func NewVerificationService(
	users repository.UserRepository,
	mailer delivery.Mailer,
	sms delivery.SMSSender,
	templates *delivery.Templates,
	auditRecorder AuditRecorder,
	collector metrics.MetricsCollector,
	cfg VerificationConfig,
) *VerificationService {
	return &VerificationService{
		users:     users,
		mailer:    mailer,
		sms:       sms,
		templates: templates,
		audit:     auditRecorder,
		metrics:   collector,
		config:    cfg,
	}
}

// IssueEmail は新しいメール検証トークンを発行し、確認リンクをメールで送る。
// 既存の保留中トークンは上書きされ、無効になる。
// メール配信の失敗はトークンの保存を取り消さず、エラーとしても返さない
// （再送エンドポイントで回復できる）。
func (s *VerificationService) IssueEmail(ctx context.Context, user *model.User) error {
	token, err := security.GenerateToken()
	if err != nil {
		return err
	}

	now := time.Now()
	expiresAt := now.Add(s.config.EmailTokenTTL)
	if err := s.users.SetEmailVerificationToken(ctx, user.ID, security.HashToken(token), expiresAt, now); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/auth/verify-email?token=%s", strings.TrimRight(s.config.BaseURL, "/"), token)
	subject, body := s.templates.VerificationEmail(user.Username, link)
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		slog.Error("failed to send verification email",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMailSent("verification", false)
		return nil
	}
	s.metrics.RecordMailSent("verification", true)

	return nil
}

// Resend はメール検証トークンを再発行する。
// 前回の送信から再送クールダウンが経過していない場合は拒否し、
// 再送可能になる時刻を返す。
func (s *VerificationService) Resend(ctx context.Context, email string, meta RequestMeta) (time.Time, error) {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return time.Time{}, err
	}
	if user == nil {
		return time.Time{}, model.NewUserNotFoundError()
	}
	if user.EmailVerified {
		return time.Time{}, model.NewValidationError("このメールアドレスは確認済みです")
	}

	now := time.Now()
	if user.EmailVerificationLastSentAt != nil {
		nextAllowed := user.EmailVerificationLastSentAt.Add(s.config.ResendCooldown)
		if now.Before(nextAllowed) {
			remaining := int(math.Ceil(nextAllowed.Sub(now).Seconds()))
			return nextAllowed, model.NewCooldownError(remaining)
		}
	}

	if err := s.IssueEmail(ctx, user); err != nil {
		return time.Time{}, err
	}

	return now.Add(s.config.ResendCooldown), nil
}

// VerifyEmail は確認リンクのトークンを照合し、メールアドレスを検証済みにする。
// トークンが未知・期限切れの場合は同一のエラーコードで拒否する。
func (s *VerificationService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (*model.User, error) {
	if token == "" {
		return nil, model.NewInvalidOrExpiredTokenError("missing token")
	}

	user, err := s.users.FindByEmailVerificationTokenHash(ctx, security.HashToken(token))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewInvalidOrExpiredTokenError("unknown token")
	}
	if user.EmailVerificationExpiresAt == nil || time.Now().After(*user.EmailVerificationExpiresAt) {
		return nil, model.NewInvalidOrExpiredTokenError("expired")
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.EmailVerified = true

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionEmailVerified,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return user, nil
}

// IssueSMS は新しいSMS検証コードを発行して送信する。
// 既存の保留中コードは上書きされ、無効になる。
func (s *VerificationService) IssueSMS(ctx context.Context, user *model.User) error {
	if user.Phone == "" {
		return model.NewValidationError("電話番号が登録されていません")
	}

	code, err := security.GenerateNumericCode()
	if err != nil {
		return err
	}

	if err := s.users.SetSMSVerificationCode(ctx, user.ID, code); err != nil {
		return err
	}

	if err := s.sms.Send(ctx, user.Phone, s.templates.SMSVerificationMessage(code)); err != nil {
		slog.Error("failed to send sms verification code",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return nil
}

// VerifySMS はSMS検証コードを照合し、電話番号を検証済みにする。
// コードの照合は定数時間で行う。
func (s *VerificationService) VerifySMS(ctx context.Context, userID int64, code string, meta RequestMeta) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if user.SMSVerificationCode == "" {
		return model.NewInvalidOrExpiredTokenError("no pending code")
	}

	if !security.ConstantTimeEquals(code, user.SMSVerificationCode) {
		return model.NewInvalidOrExpiredTokenError("code mismatch")
	}

	if err := s.users.MarkSMSVerified(ctx, user.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionSMSVerified,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return nil
}

// compile-time interface check
var _ VerificationIssuer = (*VerificationService)(nil)
