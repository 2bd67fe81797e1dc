package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/selahapp/identity/internal/model"
)

func testUser() *model.User {
	return &model.User{
		ID:       42,
		Username: "alice",
		Email:    "alice@example.com",
		IsAdmin:  true,
	}
}

func TestNewIssuer_EmptySecret_ReturnsError(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	if err == nil {
		t.Fatal("空のシークレットでエラーにならなかった")
	}
}

func TestIssuer_IssueAndVerify_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	signed, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if claims.Username != "alice" {
		t.Errorf("username = %q, want %q", claims.Username, "alice")
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", claims.Email, "alice@example.com")
	}
	if !claims.Admin {
		t.Error("admin = false, want true")
	}

	userID, err := claims.SubjectUserID()
	if err != nil {
		t.Fatalf("SubjectUserID failed: %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
}

func TestIssuer_Issue_SetsFixedExpiry(t *testing.T) {
	ttl := 7 * 24 * time.Hour
	issuer, err := NewIssuer("test-secret", ttl)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	signed, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	want := time.Now().Add(ttl)
	if diff := claims.ExpiresAt.Time.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiresAt = %v, want 約%v", claims.ExpiresAt.Time, want)
	}
}

func TestIssuer_Verify_WrongSecret_Fails(t *testing.T) {
	issuer, _ := NewIssuer("secret-a", time.Hour)
	other, _ := NewIssuer("secret-b", time.Hour)

	signed, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := other.Verify(signed); err == nil {
		t.Error("異なるシークレットで署名検証が通った")
	}
}

func TestIssuer_Verify_ExpiredToken_Fails(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", -time.Minute)

	signed, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := issuer.Verify(signed); err == nil {
		t.Error("期限切れトークンの検証が通った")
	}
}

func TestIssuer_Verify_TamperedToken_Fails(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", time.Hour)

	signed, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tampered := signed[:len(signed)-2] + "xx"
	if _, err := issuer.Verify(tampered); err == nil {
		t.Error("改ざんされたトークンの検証が通った")
	}
}

func TestIssuer_Verify_RejectsNonHMACAlgorithm(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", time.Hour)

	// alg=noneのトークンはアルゴリズム混同攻撃として拒否すること
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := issuer.Verify(tokenString); err == nil {
		t.Error("alg=noneのトークンの検証が通った")
	}
}

func TestIssuer_Verify_GarbageInput_Fails(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", time.Hour)

	for _, input := range []string{"", "not-a-jwt", strings.Repeat("a", 100)} {
		if _, err := issuer.Verify(input); err == nil {
			t.Errorf("不正な入力 %q の検証が通った", input)
		}
	}
}

func TestClaims_SubjectUserID_MalformedSubject(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-number"}}
	if _, err := claims.SubjectUserID(); err == nil {
		t.Error("数値でないsubjectがエラーにならなかった")
	}
}
