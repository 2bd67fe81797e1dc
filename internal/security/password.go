// Package security はパスワードハッシュ、シークレット生成などの
// 認証基盤のセキュリティプリミティブを提供する。
package security

import (
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost はパスワードハッシュのワークファクタ。
// メモリハードなソルト付きハッシュとしてbcryptをコスト12で固定使用する。
const bcryptCost = 12

// PasswordHasher はパスワードのハッシュ化と照合を提供する。
// 平文パスワードは永続化もログ出力もしない。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher はPasswordHasherを生成する。
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: bcryptCost}
}

// Hash は平文パスワードをハッシュ化する。
// 生成されるハッシュはアルゴリズムパラメータとソルトを自己記述形式で含む。
func (h *PasswordHasher) Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify は平文パスワードとハッシュを照合する。
// bcryptの比較は推測対象のシークレットに対して定数時間で行われる。
func (h *PasswordHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
