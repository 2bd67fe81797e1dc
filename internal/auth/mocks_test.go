package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/selahapp/identity/internal/audit"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/security"
)

// mockUserRepo は関数フィールドで振る舞いを差し替えられるUserRepositoryのモック。
type mockUserRepo struct {
	findByIDFn                         func(ctx context.Context, id int64) (*model.User, error)
	findByEmailFn                      func(ctx context.Context, email string) (*model.User, error)
	findByIdentifierFn                 func(ctx context.Context, identifier string) (*model.User, error)
	findByEmailVerificationTokenHashFn func(ctx context.Context, tokenHash string) (*model.User, error)
	findByPasswordResetTokenHashFn     func(ctx context.Context, tokenHash string) (*model.User, error)
	createFn                           func(ctx context.Context, user *model.User) error
	recordLoginFailureFn               func(ctx context.Context, id int64, maxAttempts int, lockoutDuration time.Duration) (int, *time.Time, error)
	resetLoginStateFn                  func(ctx context.Context, id int64) error
	setLockoutFn                       func(ctx context.Context, id int64, until *time.Time) error
	setEmailVerificationTokenFn        func(ctx context.Context, id int64, tokenHash string, expiresAt, sentAt time.Time) error
	markEmailVerifiedFn                func(ctx context.Context, id int64) error
	setSMSVerificationCodeFn           func(ctx context.Context, id int64, code string) error
	markSMSVerifiedFn                  func(ctx context.Context, id int64) error
	setPasswordResetTokenFn            func(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error
	updatePasswordFn                   func(ctx context.Context, id int64, passwordHash string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	if m.findByIdentifierFn != nil {
		return m.findByIdentifierFn(ctx, identifier)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmailVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	if m.findByEmailVerificationTokenHashFn != nil {
		return m.findByEmailVerificationTokenHashFn(ctx, tokenHash)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByPasswordResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	if m.findByPasswordResetTokenHashFn != nil {
		return m.findByPasswordResetTokenHashFn(ctx, tokenHash)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) RecordLoginFailure(ctx context.Context, id int64, maxAttempts int, lockoutDuration time.Duration) (int, *time.Time, error) {
	if m.recordLoginFailureFn != nil {
		return m.recordLoginFailureFn(ctx, id, maxAttempts, lockoutDuration)
	}
	return 0, nil, nil
}

func (m *mockUserRepo) ResetLoginState(ctx context.Context, id int64) error {
	if m.resetLoginStateFn != nil {
		return m.resetLoginStateFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SetLockout(ctx context.Context, id int64, until *time.Time) error {
	if m.setLockoutFn != nil {
		return m.setLockoutFn(ctx, id, until)
	}
	return nil
}

func (m *mockUserRepo) SetEmailVerificationToken(ctx context.Context, id int64, tokenHash string, expiresAt, sentAt time.Time) error {
	if m.setEmailVerificationTokenFn != nil {
		return m.setEmailVerificationTokenFn(ctx, id, tokenHash, expiresAt, sentAt)
	}
	return nil
}

func (m *mockUserRepo) MarkEmailVerified(ctx context.Context, id int64) error {
	if m.markEmailVerifiedFn != nil {
		return m.markEmailVerifiedFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SetSMSVerificationCode(ctx context.Context, id int64, code string) error {
	if m.setSMSVerificationCodeFn != nil {
		return m.setSMSVerificationCodeFn(ctx, id, code)
	}
	return nil
}

func (m *mockUserRepo) MarkSMSVerified(ctx context.Context, id int64) error {
	if m.markSMSVerifiedFn != nil {
		return m.markSMSVerifiedFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SetPasswordResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	if m.setPasswordResetTokenFn != nil {
		return m.setPasswordResetTokenFn(ctx, id, tokenHash, expiresAt)
	}
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, passwordHash)
	}
	return nil
}

// mockSessionRepo はSessionRepositoryのモック。
type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	touchFn          func(ctx context.Context, id string, expiresAt time.Time) error
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID int64) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, id, expiresAt)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

// mockMagicCodeRepo はMagicCodeRepositoryのモック。
type mockMagicCodeRepo struct {
	createFn        func(ctx context.Context, entry *model.MagicCode) error
	findByTokenFn   func(ctx context.Context, token string) (*model.MagicCode, error)
	deleteByTokenFn func(ctx context.Context, token string) error
}

func (m *mockMagicCodeRepo) Create(ctx context.Context, entry *model.MagicCode) error {
	if m.createFn != nil {
		return m.createFn(ctx, entry)
	}
	return nil
}

func (m *mockMagicCodeRepo) FindByToken(ctx context.Context, token string) (*model.MagicCode, error) {
	if m.findByTokenFn != nil {
		return m.findByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockMagicCodeRepo) DeleteByToken(ctx context.Context, token string) error {
	if m.deleteByTokenFn != nil {
		return m.deleteByTokenFn(ctx, token)
	}
	return nil
}

// mockAudit は記録されたイベントを保持するAuditRecorderのモック。
type mockAudit struct {
	events []audit.Event
}

func (m *mockAudit) Record(_ context.Context, event audit.Event) {
	m.events = append(m.events, event)
}

// lastEvent は最後に記録されたイベントを返す。イベントがない場合はテストを失敗させる。
func (m *mockAudit) lastEvent(t *testing.T) audit.Event {
	t.Helper()
	if len(m.events) == 0 {
		t.Fatal("期待した監査イベントが記録されていない")
	}
	return m.events[len(m.events)-1]
}

// mockMailer は送信されたメールを保持するMailerのモック。
type mockMailer struct {
	sendFn func(ctx context.Context, to, subject, htmlBody string) error
	sent   []sentMail
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (m *mockMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	if m.sendFn != nil {
		return m.sendFn(ctx, to, subject, htmlBody)
	}
	return nil
}

// mockSMSSender は送信されたSMSを保持するSMSSenderのモック。
type mockSMSSender struct {
	sendFn func(ctx context.Context, phone, message string) error
	sent   []sentSMS
}

type sentSMS struct {
	phone   string
	message string
}

func (m *mockSMSSender) Send(ctx context.Context, phone, message string) error {
	m.sent = append(m.sent, sentSMS{phone: phone, message: message})
	if m.sendFn != nil {
		return m.sendFn(ctx, phone, message)
	}
	return nil
}

// mockIssuer はTokenIssuerのモック。
type mockIssuer struct {
	issueFn func(user *model.User) (string, error)
}

func (m *mockIssuer) Issue(user *model.User) (string, error) {
	if m.issueFn != nil {
		return m.issueFn(user)
	}
	return "test-bearer-token", nil
}

// mockVerificationIssuer はVerificationIssuerのモック。
type mockVerificationIssuer struct {
	issueEmailFn func(ctx context.Context, user *model.User) error
	issueSMSFn   func(ctx context.Context, user *model.User) error
	emailIssued  int
	smsIssued    int
}

func (m *mockVerificationIssuer) IssueEmail(ctx context.Context, user *model.User) error {
	m.emailIssued++
	if m.issueEmailFn != nil {
		return m.issueEmailFn(ctx, user)
	}
	return nil
}

func (m *mockVerificationIssuer) IssueSMS(ctx context.Context, user *model.User) error {
	m.smsIssued++
	if m.issueSMSFn != nil {
		return m.issueSMSFn(ctx, user)
	}
	return nil
}

// testPassword とそのbcryptハッシュ。コスト12のハッシュ化は重いため、
// パッケージ内のテストで1度だけ計算して使い回す。
const testPassword = "correct-horse-battery"

var (
	testPasswordHashOnce sync.Once
	testPasswordHash     string
)

func passwordHash(t *testing.T) string {
	t.Helper()
	testPasswordHashOnce.Do(func() {
		hash, err := security.NewPasswordHasher().Hash(testPassword)
		if err != nil {
			t.Fatalf("テスト用パスワードのハッシュ化に失敗: %v", err)
		}
		testPasswordHash = hash
	})
	return testPasswordHash
}

// apiErrorCode はエラーを*model.APIErrorとして解釈し、そのコードを返す。
func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("エラーを期待したがnilだった")
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("*model.APIErrorを期待したが %T だった: %v", err, err)
	}
	return apiErr.Code
}
