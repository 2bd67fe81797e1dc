// Package auth は認証のユースケース（登録、ログイン、検証、
// パスワードレスログイン、パスワードリセット）を実装する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/selahapp/identity/internal/audit"
	"github.com/selahapp/identity/internal/config"
	"github.com/selahapp/identity/internal/metrics"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/repository"
	"github.com/selahapp/identity/internal/security"
)

// RequestMeta は監査ログに記録するリクエストの出所情報。
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditRecorder は監査イベント記録の最小インターフェース。
// 記録の失敗は呼び出し元に伝播しない。
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

// TokenIssuer はベアラートークン発行の最小インターフェース。
type TokenIssuer interface {
	Issue(user *model.User) (string, error)
}

// VerificationIssuer は登録直後の検証チャレンジ発行の最小インターフェース。
type VerificationIssuer interface {
	IssueEmail(ctx context.Context, user *model.User) error
	IssueSMS(ctx context.Context, user *model.User) error
}

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	Mode             config.AuthMode
	SessionTTL       time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// Service は登録・ログイン・ログアウトと管理者によるロック操作を提供する。
type Service struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	hasher       *security.PasswordHasher
	issuer       TokenIssuer // セッションモードの場合はnil
	verification VerificationIssuer
	audit        AuditRecorder
	metrics      metrics.MetricsCollector
	config       ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	issuer TokenIssuer,
	verification VerificationIssuer,
	auditRecorder AuditRecorder,
	collector metrics.MetricsCollector,
	cfg ServiceConfig,
) *Service {
	return &Service{
		users:        users,
		sessions:     sessions,
		hasher:       hasher,
		issuer:       issuer,
		verification: verification,
		audit:        auditRecorder,
		metrics:      collector,
		config:       cfg,
	}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username string
	Email    string
	Phone    string // 任意
	Password string
}

// Register は新規ユーザーを登録し、検証チャレンジを発行する。
// 検証チャレンジの配信失敗は登録を取り消さない（再送エンドポイントで回復できる）。
func (s *Service) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (*model.User, error) {
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		Username:     strings.TrimSpace(input.Username),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	// 検証チャレンジの発行。失敗してもユーザー作成は巻き戻さない。
	if err := s.verification.IssueEmail(ctx, user); err != nil {
		slog.Error("failed to issue email verification",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	if user.Phone != "" {
		if err := s.verification.IssueSMS(ctx, user); err != nil {
			slog.Error("failed to issue sms verification",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionRegister,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	s.metrics.RecordRegistration()

	return user, nil
}

// LoginResult はログイン成功の結果。
// セッションモードではSession、ベアラーモードではBearerTokenが設定される。
type LoginResult struct {
	User        *model.User
	Session     *model.Session
	BearerToken string
}

// Login はユーザー名またはメールアドレスとパスワードで認証する。
//
// 失敗時のカウンタ更新はストア側でアトミックに行われ、閾値到達で
// アカウントを一時ロックする。ロック中は正しいパスワードでも拒否する。
// 成功時はカウンタをリセットし、設定されたモードのクレデンシャルを発行する。
func (s *Service) Login(ctx context.Context, identifier, password string, meta RequestMeta) (*LoginResult, error) {
	user, err := s.users.FindByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	if user == nil {
		// アカウントの存在を暴露しないため、パスワード不一致と同じ応答を返す
		s.recordLoginFailed(ctx, nil, identifier, "unknown_user", meta)
		s.metrics.RecordLoginFailure("unknown_user")
		return nil, model.NewInvalidCredentialsError(s.config.MaxLoginAttempts)
	}

	now := time.Now()
	if user.IsLockedAt(now) {
		s.recordLoginBlocked(ctx, user, "locked", meta)
		s.metrics.RecordLoginFailure("locked")
		return nil, model.NewAccountLockedError(remainingMinutes(*user.LockoutUntil, now))
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		attempts, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID, s.config.MaxLoginAttempts, s.config.LockoutDuration)
		if err != nil {
			return nil, err
		}

		s.recordLoginFailed(ctx, user, "", "bad_password", meta)
		s.metrics.RecordLoginFailure("bad_password")

		if lockedUntil != nil && lockedUntil.After(now) {
			s.metrics.RecordLockout()
			return nil, model.NewAccountLockedError(remainingMinutes(*lockedUntil, now))
		}

		remaining := s.config.MaxLoginAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return nil, model.NewInvalidCredentialsError(remaining)
	}

	// パスワードは正しいが検証が未完了の場合は拒否する。
	// 試行回数にはカウントしない。
	if !user.EmailVerified {
		s.recordLoginBlocked(ctx, user, "email_unverified", meta)
		s.metrics.RecordLoginFailure("email_unverified")
		return nil, model.NewEmailNotVerifiedError()
	}
	if user.PhoneVerificationPending() {
		s.recordLoginBlocked(ctx, user, "phone_unverified", meta)
		s.metrics.RecordLoginFailure("phone_unverified")
		return nil, model.NewPhoneNotVerifiedError()
	}

	if err := s.users.ResetLoginState(ctx, user.ID); err != nil {
		return nil, err
	}

	result, err := s.issueCredential(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionLogin,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    map[string]any{"mode": string(s.config.Mode)},
	})
	s.metrics.RecordLoginSuccess()

	return result, nil
}

// issueCredential は設定されたモードに従ってクレデンシャルを発行する。
func (s *Service) issueCredential(ctx context.Context, user *model.User) (*LoginResult, error) {
	result := &LoginResult{User: user}

	switch s.config.Mode {
	case config.AuthModeBearer:
		if s.issuer == nil {
			slog.Error("bearer mode is configured but no token issuer is available")
			return nil, model.NewConfigurationError()
		}
		token, err := s.issuer.Issue(user)
		if err != nil {
			return nil, fmt.Errorf("failed to issue bearer token: %w", err)
		}
		result.BearerToken = token

	default:
		sessionID, err := security.GenerateToken()
		if err != nil {
			return nil, err
		}
		session := &model.Session{
			ID:        sessionID,
			UserID:    user.ID,
			ExpiresAt: time.Now().Add(s.config.SessionTTL),
			CreatedAt: time.Now(),
		}
		// セッション保存の失敗は無視するとCookieだけが残るため、明示的に失敗させる
		if err := s.sessions.Create(ctx, session); err != nil {
			slog.Error("failed to create session",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewPersistenceError()
		}
		result.Session = session
	}

	return result, nil
}

// Logout はセッションを破棄する。セッションが存在しなくてもエラーにしない。
func (s *Service) Logout(ctx context.Context, sessionID string, identity model.Identity, meta RequestMeta) error {
	if sessionID != "" {
		if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
			return err
		}
	}

	event := audit.Event{
		Action:    audit.ActionLogout,
		Status:    audit.StatusSuccess,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if identity.Authenticated {
		event.UserID = &identity.UserID
		event.Username = identity.Username
		event.EntityType = "user"
		event.EntityID = strconv.FormatInt(identity.UserID, 10)
	}
	s.audit.Record(ctx, event)

	return nil
}

// CurrentUser は認証済みユーザーの最新のレコードを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// LockUser は管理者操作として指定ユーザーを指定時刻までロックする。
func (s *Service) LockUser(ctx context.Context, admin model.Identity, targetID int64, until time.Time, meta RequestMeta) error {
	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.users.SetLockout(ctx, targetID, &until); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &admin.UserID,
		Username:   admin.Username,
		Action:     audit.ActionUserBlock,
		EntityType: "user",
		EntityID:   strconv.FormatInt(targetID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    map[string]any{"locked_until": until.Format(time.RFC3339)},
	})

	return nil
}

// UnlockUser は管理者操作として指定ユーザーのロックと失敗カウンタを解除する。
func (s *Service) UnlockUser(ctx context.Context, admin model.Identity, targetID int64, meta RequestMeta) error {
	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.users.ResetLoginState(ctx, targetID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &admin.UserID,
		Username:   admin.Username,
		Action:     audit.ActionAdminAction,
		EntityType: "user",
		EntityID:   strconv.FormatInt(targetID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    map[string]any{"operation": "unlock"},
	})

	return nil
}

// recordLoginFailed はログイン失敗の監査イベントを記録する。
func (s *Service) recordLoginFailed(ctx context.Context, user *model.User, identifier, reason string, meta RequestMeta) {
	event := audit.Event{
		Action:    audit.ActionLoginFailed,
		Status:    audit.StatusFailure,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"reason": reason},
	}
	if user != nil {
		event.UserID = &user.ID
		event.Username = user.Username
		event.EntityType = "user"
		event.EntityID = strconv.FormatInt(user.ID, 10)
	} else {
		event.Username = identifier
	}
	s.audit.Record(ctx, event)
}

// recordLoginBlocked はロック・未検証によるログイン拒否の監査イベントを記録する。
func (s *Service) recordLoginBlocked(ctx context.Context, user *model.User, reason string, meta RequestMeta) {
	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionLoginFailed,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusBlocked,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    map[string]any{"reason": reason},
	})
}

// validateRegisterInput は登録入力を検証する。
func validateRegisterInput(input RegisterInput) *model.APIError {
	username := strings.TrimSpace(input.Username)
	if len(username) < 3 {
		return model.NewValidationError("ユーザー名は3文字以上にしてください")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.Email)); err != nil {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if len(input.Password) < 8 {
		return model.NewValidationError("パスワードは8文字以上にしてください")
	}
	return nil
}

// remainingMinutes はロック解除までの残り分数（切り上げ）を返す。
func remainingMinutes(until, now time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}
