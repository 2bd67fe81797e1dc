package auth

import (
	"context"
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

// MagicConfig はMagicCodeServiceの動作設定。
type MagicConfig struct {
	CodeTTL       time.Duration
	TestAddresses []string // 固定コードを使い、メールを送らないアドレス
	TestCode      string
}

// MagicCodeService はメールで届く6桁コードによるパスワードレスログインを提供する。
//
// コード要求は不透明なリクエストトークンを返し、検証はトークンとコードの
// 組で行う。エントリは結果を問わず検証1回で破棄され、同じトークンでの
// 再試行はできない。
type MagicCodeService struct {
	users     repository.UserRepository
	codes     repository.MagicCodeRepository
	mailer    delivery.Mailer
	templates *delivery.Templates
	issuer    TokenIssuer
	audit     AuditRecorder
	metrics   metrics.MetricsCollector
	config    MagicConfig
}

// NewMagicCodeService はMagicCodeServiceを生成する。
// ネイティブクライアント向けのフローであり、成功時は常にベアラートークンを
// 発行する。issuerがnilの場合、検証は設定エラーで失敗する。
func NewMagicCodeService(
	users repository.UserRepository,
	codes repository.MagicCodeRepository,
	mailer delivery.Mailer,
	templates *delivery.Templates,
	issuer TokenIssuer,
	auditRecorder AuditRecorder,
	collector metrics.MetricsCollector,
	cfg MagicConfig,
) *MagicCodeService {
	return &MagicCodeService{
		users:     users,
		codes:     codes,
		mailer:    mailer,
		templates: templates,
		issuer:    issuer,
		audit:     auditRecorder,
		metrics:   collector,
		config:    cfg,
	}
}

// RequestCode はログインコードを発行してメールで送り、
// 検証に使うリクエストトークンを返す。
//
// アプリストア審査用のテストアドレスには固定コードを割り当て、
// メールは送らない。未登録のメールアドレスに対してもエントリを作成する
// （検証成功時にアカウントを自動作成する）。
func (s *MagicCodeService) RequestCode(ctx context.Context, email string, meta RequestMeta) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", model.NewValidationError("メールアドレスを指定してください")
	}

	token, err := security.GenerateToken()
	if err != nil {
		return "", err
	}

	isTest := s.isTestAddress(email)

	var code string
	if isTest {
		code = s.config.TestCode
	} else {
		code, err = security.GenerateNumericCode()
		if err != nil {
			return "", err
		}
	}

	now := time.Now()
	entry := &model.MagicCode{
		Token:     token,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.config.CodeTTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, entry); err != nil {
		return "", err
	}

	if !isTest {
		subject, body := s.templates.MagicCodeEmail(code)
		if err := s.mailer.Send(ctx, email, subject, body); err != nil {
			slog.Error("failed to send magic code email",
				slog.String("error", err.Error()),
			)
			s.metrics.RecordMailSent("magic_code", false)
		} else {
			s.metrics.RecordMailSent("magic_code", true)
		}
	}

	s.audit.Record(ctx, audit.Event{
		Username:  email,
		Action:    audit.ActionMagicCodeRequest,
		Status:    audit.StatusSuccess,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	s.metrics.RecordMagicCodeIssued()

	return token, nil
}

// VerifyCode はリクエストトークンとコードの組を検証し、ベアラートークンを発行する。
//
// エントリは結果を問わず即座に破棄される。コードを間違えた場合は
// 同じトークンで再試行できず、コードの要求からやり直す必要がある。
// メールアドレスが未登録の場合はアカウントを自動作成する。
func (s *MagicCodeService) VerifyCode(ctx context.Context, requestToken, code string, meta RequestMeta) (*model.User, string, error) {
	entry, err := s.codes.FindByToken(ctx, requestToken)
	if err != nil {
		return nil, "", err
	}
	if entry == nil {
		s.metrics.RecordMagicLogin(false)
		return nil, "", model.NewInvalidOrExpiredTokenError("unknown token")
	}

	// 検証は1トークンにつき1回。結果の判定前に破棄する。
	if err := s.codes.DeleteByToken(ctx, requestToken); err != nil {
		return nil, "", err
	}

	if time.Now().After(entry.ExpiresAt) {
		s.recordMagicFailure(ctx, entry.Email, "expired", meta)
		return nil, "", model.NewInvalidOrExpiredTokenError("expired")
	}

	if !security.ConstantTimeEquals(code, entry.Code) {
		s.recordMagicFailure(ctx, entry.Email, "code mismatch", meta)
		return nil, "", model.NewInvalidOrExpiredTokenError("code mismatch")
	}

	user, err := s.resolveUser(ctx, entry.Email)
	if err != nil {
		return nil, "", err
	}

	if s.issuer == nil {
		slog.Error("magic code login requires a token issuer but none is configured")
		return nil, "", model.NewConfigurationError()
	}
	bearer, err := s.issuer.Issue(user)
	if err != nil {
		return nil, "", err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     &user.ID,
		Username:   user.Username,
		Action:     audit.ActionMagicLogin,
		EntityType: "user",
		EntityID:   strconv.FormatInt(user.ID, 10),
		Status:     audit.StatusSuccess,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	s.metrics.RecordMagicLogin(true)

	return user, bearer, nil
}

// resolveUser はメールアドレスのユーザーを取得し、存在しない場合は作成する。
// コードの検証成功はメールアドレスの所有確認を兼ねるため、
// どちらの場合もメールアドレスを検証済みにする。
func (s *MagicCodeService) resolveUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user == nil {
		user, err = s.provisionUser(ctx, email)
		if err != nil {
			return nil, err
		}
	}

	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.EmailVerified = true
	}

	return user, nil
}

// provisionUser はメールアドレスからユーザーを自動作成する。
// ユーザー名はローカル部から導出し、衝突した場合はランダムな接尾辞を付ける。
// パスワードは設定されず（ランダム値のハッシュ）、パスワードリセットで
// 後から設定できる。
func (s *MagicCodeService) provisionUser(ctx context.Context, email string) (*model.User, error) {
	random, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}
	hash, err := security.NewPasswordHasher().Hash(random[:32])
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := usernameFromEmail(email)
	user := &model.User{
		Username:     base,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		apiErr, ok := err.(*model.APIError)
		if !ok || apiErr.Code != model.ErrCodeDuplicateResource {
			return nil, err
		}

		// ユーザー名の衝突。接尾辞を付けて1回だけ再試行する。
		suffix, err := security.GenerateNumericCode()
		if err != nil {
			return nil, err
		}
		user.Username = base + suffix[:4]
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// recordMagicFailure はマジックコード検証の失敗を記録する。
func (s *MagicCodeService) recordMagicFailure(ctx context.Context, email, reason string, meta RequestMeta) {
	s.audit.Record(ctx, audit.Event{
		Username:  email,
		Action:    audit.ActionMagicLogin,
		Status:    audit.StatusFailure,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"reason": reason},
	})
	s.metrics.RecordMagicLogin(false)
}

// isTestAddress はアプリストア審査用のテストアドレスかどうかを判定する。
func (s *MagicCodeService) isTestAddress(email string) bool {
	for _, addr := range s.config.TestAddresses {
		if strings.EqualFold(addr, email) {
			return true
		}
	}
	return false
}

// usernameFromEmail はメールアドレスのローカル部からユーザー名を導出する。
// 英数字以外は除去し、短すぎる場合は固定の接頭辞で補う。
func usernameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}

	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	name := b.String()
	if len(name) < 3 {
		name = "user" + name
	}
	return name
}
