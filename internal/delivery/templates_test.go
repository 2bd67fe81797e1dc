package delivery

import (
	"strings"
	"testing"

	"github.com/selahapp/identity/internal/security"
)

func testTemplates() *Templates {
	return NewTemplates(security.NewValueSanitizer())
}

func TestTemplates_VerificationEmail(t *testing.T) {
	subject, body := testTemplates().VerificationEmail("alice", "https://app.example.com/auth/verify-email?token=abc")

	if subject == "" {
		t.Error("件名が空")
	}
	if !strings.Contains(body, "alice") {
		t.Error("本文にユーザー名が含まれていない")
	}
	if !strings.Contains(body, "https://app.example.com/auth/verify-email?token=abc") {
		t.Error("本文に確認リンクが含まれていない")
	}
}

func TestTemplates_VerificationEmail_SanitizesUsername(t *testing.T) {
	_, body := testTemplates().VerificationEmail(`<script>alert(1)</script>alice`, "https://app.example.com/verify")

	if strings.Contains(body, "<script>") {
		t.Error("本文にscriptタグが残っている")
	}
	if !strings.Contains(body, "alice") {
		t.Error("サニタイズ後のユーザー名が含まれていない")
	}
}

func TestTemplates_MagicCodeEmail(t *testing.T) {
	_, body := testTemplates().MagicCodeEmail("123456")

	if !strings.Contains(body, "123456") {
		t.Error("本文にコードが含まれていない")
	}
	if !strings.Contains(body, "15分") {
		t.Error("本文に有効期限の案内が含まれていない")
	}
}

func TestTemplates_PasswordResetEmail(t *testing.T) {
	_, body := testTemplates().PasswordResetEmail("alice", "https://app.example.com/reset-password?token=abc")

	if !strings.Contains(body, "alice") {
		t.Error("本文にユーザー名が含まれていない")
	}
	if !strings.Contains(body, "reset-password?token=abc") {
		t.Error("本文にリセットリンクが含まれていない")
	}
}

func TestTemplates_SMSVerificationMessage(t *testing.T) {
	msg := testTemplates().SMSVerificationMessage("654321")
	if !strings.Contains(msg, "654321") {
		t.Errorf("メッセージにコードが含まれていない: %q", msg)
	}
}
