package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/selahapp/identity/internal/audit"
	"github.com/selahapp/identity/internal/delivery"
	"github.com/selahapp/identity/internal/metrics"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/security"
)

func newVerificationService(users *mockUserRepo, mailer *mockMailer, sms *mockSMSSender, auditRec *mockAudit) *VerificationService {
	return NewVerificationService(
		users, mailer, sms,
		delivery.NewTemplates(security.NewValueSanitizer()),
		auditRec, metrics.NopCollector{},
		VerificationConfig{
			BaseURL:        "https://app.example.com",
			EmailTokenTTL:  24 * time.Hour,
			ResendCooldown: 5 * time.Minute,
		},
	)
}

// --- IssueEmail ---

func TestVerificationService_IssueEmail_StoresHashAndMailsPlaintext(t *testing.T) {
	var storedHash string
	var storedExpiry time.Time
	users := &mockUserRepo{
		setEmailVerificationTokenFn: func(_ context.Context, _ int64, tokenHash string, expiresAt, _ time.Time) error {
			storedHash = tokenHash
			storedExpiry = expiresAt
			return nil
		},
	}
	mailer := &mockMailer{}

	svc := newVerificationService(users, mailer, &mockSMSSender{}, &mockAudit{})

	user := &model.User{ID: 1, Username: "alice", Email: "alice@example.com"}
	if err := svc.IssueEmail(context.Background(), user); err != nil {
		t.Fatalf("IssueEmail failed: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(mailer.sent))
	}
	mail := mailer.sent[0]
	if mail.to != "alice@example.com" {
		t.Errorf("to = %q, want %q", mail.to, "alice@example.com")
	}

	// メール本文のリンクから平文トークンを取り出し、保存値がそのハッシュであることを確認
	marker := "verify-email?token="
	i := strings.Index(mail.body, marker)
	if i < 0 {
		t.Fatalf("確認リンクが本文に含まれていない: %s", mail.body)
	}
	token := mail.body[i+len(marker):]
	token = token[:strings.IndexByte(token, '"')]

	if storedHash == token {
		t.Error("トークンが平文のまま保存されている")
	}
	if storedHash != security.HashToken(token) {
		t.Error("保存値が平文トークンのSHA-256ハッシュと一致しない")
	}

	wantExpiry := time.Now().Add(24 * time.Hour)
	if diff := storedExpiry.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiresAt = %v, want 約%v", storedExpiry, wantExpiry)
	}
}

func TestVerificationService_IssueEmail_MailFailure_DoesNotFail(t *testing.T) {
	stored := false
	users := &mockUserRepo{
		setEmailVerificationTokenFn: func(context.Context, int64, string, time.Time, time.Time) error {
			stored = true
			return nil
		},
	}
	mailer := &mockMailer{
		sendFn: func(context.Context, string, string, string) error {
			return context.DeadlineExceeded
		},
	}

	svc := newVerificationService(users, mailer, &mockSMSSender{}, &mockAudit{})

	user := &model.User{ID: 1, Username: "alice", Email: "alice@example.com"}
	// 配信失敗はトークン保存を取り消さず、エラーも返さない（再送で回復できる）
	if err := svc.IssueEmail(context.Background(), user); err != nil {
		t.Fatalf("配信失敗がエラーとして返された: %v", err)
	}
	if !stored {
		t.Error("トークンが保存されていない")
	}
}

// --- Resend ---

func TestVerificationService_Resend_WithinCooldown_Rejects(t *testing.T) {
	lastSent := time.Now().Add(-2 * time.Minute)
	users := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return &model.User{
				ID:                          1,
				Email:                       "alice@example.com",
				EmailVerificationLastSentAt: &lastSent,
			}, nil
		},
	}
	mailer := &mockMailer{}

	svc := newVerificationService(users, mailer, &mockSMSSender{}, &mockAudit{})

	nextAllowed, err := svc.Resend(context.Background(), "alice@example.com", testMeta())
	if code := apiErrorCode(t, err); code != model.ErrCodeCooldown {
		t.Errorf("code = %q, want %q", code, model.ErrCodeCooldown)
	}
	if len(mailer.sent) != 0 {
		t.Error("クールダウン中にメールが送信された")
	}

	// 再送可能時刻は前回送信の5分後
	want := lastSent.Add(5 * time.Minute)
	if !nextAllowed.Equal(want) {
		t.Errorf("nextAllowed = %v, want %v", nextAllowed, want)
	}
}

func TestVerificationService_Resend_AfterCooldown_IssuesNewToken(t *testing.T) {
	lastSent := time.Now().Add(-10 * time.Minute)
	users := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return &model.User{
				ID:                          1,
				Email:                       "alice@example.com",
				EmailVerificationLastSentAt: &lastSent,
			}, nil
		},
	}
	mailer := &mockMailer{}

	svc := newVerificationService(users, mailer, &mockSMSSender{}, &mockAudit{})

	if _, err := svc.Resend(context.Background(), "alice@example.com", testMeta()); err != nil {
		t.Fatalf("Resend failed: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(mailer.sent))
	}
}

func TestVerificationService_Resend_UnknownEmail_ReturnsNotFound(t *testing.T) {
	svc := newVerificationService(&mockUserRepo{}, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	_, err := svc.Resend(context.Background(), "nobody@example.com", testMeta())
	if code := apiErrorCode(t, err); code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeUserNotFound)
	}
}

func TestVerificationService_Resend_AlreadyVerified_Rejects(t *testing.T) {
	users := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return &model.User{ID: 1, EmailVerified: true}, nil
		},
	}

	svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	_, err := svc.Resend(context.Background(), "alice@example.com", testMeta())
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, model.ErrCodeValidation)
	}
}

// --- VerifyEmail ---

func TestVerificationService_VerifyEmail_MarksVerified(t *testing.T) {
	token := "plain-token"
	expiresAt := time.Now().Add(time.Hour)
	marked := false
	users := &mockUserRepo{
		findByEmailVerificationTokenHashFn: func(_ context.Context, tokenHash string) (*model.User, error) {
			if tokenHash != security.HashToken(token) {
				t.Errorf("ハッシュで検索していない: %q", tokenHash)
			}
			return &model.User{ID: 1, Username: "alice", EmailVerificationExpiresAt: &expiresAt}, nil
		},
		markEmailVerifiedFn: func(context.Context, int64) error {
			marked = true
			return nil
		},
	}
	auditRec := &mockAudit{}

	svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, auditRec)

	user, err := svc.VerifyEmail(context.Background(), token, testMeta())
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !marked {
		t.Error("MarkEmailVerifiedが呼ばれていない")
	}
	if !user.EmailVerified {
		t.Error("返却ユーザーのEmailVerifiedがfalseのまま")
	}
	if event := auditRec.lastEvent(t); event.Action != audit.ActionEmailVerified {
		t.Errorf("audit action = %q, want %q", event.Action, audit.ActionEmailVerified)
	}
}

func TestVerificationService_VerifyEmail_Rejections(t *testing.T) {
	expired := time.Now().Add(-time.Minute)

	tests := []struct {
		name  string
		token string
		user  *model.User
	}{
		{"空トークン", "", nil},
		{"未知のトークン", "unknown", nil},
		{"期限切れ", "expired-token", &model.User{ID: 1, EmailVerificationExpiresAt: &expired}},
		{"期限未設定", "no-expiry", &model.User{ID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{
				findByEmailVerificationTokenHashFn: func(context.Context, string) (*model.User, error) {
					return tt.user, nil
				},
			}
			svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

			_, err := svc.VerifyEmail(context.Background(), tt.token, testMeta())
			if code := apiErrorCode(t, err); code != model.ErrCodeInvalidOrExpiredToken {
				t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidOrExpiredToken)
			}
		})
	}
}

// --- IssueSMS / VerifySMS ---

func TestVerificationService_IssueSMS_StoresCodeAndSends(t *testing.T) {
	var storedCode string
	users := &mockUserRepo{
		setSMSVerificationCodeFn: func(_ context.Context, _ int64, code string) error {
			storedCode = code
			return nil
		},
	}
	sms := &mockSMSSender{}

	svc := newVerificationService(users, &mockMailer{}, sms, &mockAudit{})

	user := &model.User{ID: 1, Phone: "+819012345678"}
	if err := svc.IssueSMS(context.Background(), user); err != nil {
		t.Fatalf("IssueSMS failed: %v", err)
	}

	if len(storedCode) != 6 {
		t.Errorf("コード長 = %d, want 6", len(storedCode))
	}
	if len(sms.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sms.sent))
	}
	if !strings.Contains(sms.sent[0].message, storedCode) {
		t.Error("SMS本文に保存されたコードが含まれていない")
	}
}

func TestVerificationService_IssueSMS_WithoutPhone_Rejects(t *testing.T) {
	svc := newVerificationService(&mockUserRepo{}, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	err := svc.IssueSMS(context.Background(), &model.User{ID: 1})
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, model.ErrCodeValidation)
	}
}

func TestVerificationService_VerifySMS_CorrectCode_MarksVerified(t *testing.T) {
	marked := false
	users := &mockUserRepo{
		findByIDFn: func(context.Context, int64) (*model.User, error) {
			return &model.User{ID: 1, Phone: "+819012345678", SMSVerificationCode: "123456"}, nil
		},
		markSMSVerifiedFn: func(context.Context, int64) error {
			marked = true
			return nil
		},
	}

	svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	if err := svc.VerifySMS(context.Background(), 1, "123456", testMeta()); err != nil {
		t.Fatalf("VerifySMS failed: %v", err)
	}
	if !marked {
		t.Error("MarkSMSVerifiedが呼ばれていない")
	}
}

func TestVerificationService_VerifySMS_WrongCode_Rejects(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(context.Context, int64) (*model.User, error) {
			return &model.User{ID: 1, Phone: "+819012345678", SMSVerificationCode: "123456"}, nil
		},
	}

	svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	err := svc.VerifySMS(context.Background(), 1, "654321", testMeta())
	if code := apiErrorCode(t, err); code != model.ErrCodeInvalidOrExpiredToken {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidOrExpiredToken)
	}
}

func TestVerificationService_VerifySMS_NoPendingCode_Rejects(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(context.Context, int64) (*model.User, error) {
			return &model.User{ID: 1, Phone: "+819012345678"}, nil
		},
	}

	svc := newVerificationService(users, &mockMailer{}, &mockSMSSender{}, &mockAudit{})

	err := svc.VerifySMS(context.Background(), 1, "123456", testMeta())
	if code := apiErrorCode(t, err); code != model.ErrCodeInvalidOrExpiredToken {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidOrExpiredToken)
	}
}
