package security

import (
	"strings"
	"testing"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("my-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if hash == "my-password-123" {
		t.Fatal("ハッシュが平文と同一")
	}
	if !strings.HasPrefix(hash, "$2a$12$") {
		t.Errorf("bcryptコスト12のハッシュ形式でない: %q", hash[:7])
	}

	if !hasher.Verify("my-password-123", hash) {
		t.Error("正しいパスワードの照合に失敗")
	}
	if hasher.Verify("wrong-password", hash) {
		t.Error("誤ったパスワードの照合が通った")
	}
}

func TestPasswordHasher_Hash_SaltsEachHash(t *testing.T) {
	hasher := NewPasswordHasher()

	a, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// ソルトにより同一パスワードでもハッシュは毎回異なる
	if a == b {
		t.Error("同一パスワードのハッシュが一致した（ソルトが効いていない）")
	}
}

func TestPasswordHasher_Verify_MalformedHash(t *testing.T) {
	hasher := NewPasswordHasher()

	if hasher.Verify("password", "not-a-bcrypt-hash") {
		t.Error("不正なハッシュ形式の照合が通った")
	}
	if hasher.Verify("password", "") {
		t.Error("空ハッシュの照合が通った")
	}
}
