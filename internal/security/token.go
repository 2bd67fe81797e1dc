package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// tokenBytes は不透明トークンのエントロピー長（バイト）。
const tokenBytes = 32

// GenerateToken は暗号的に安全な不透明トークンを生成する。
// セッションID、メール検証トークン、マジックコードのリクエストトークンに使用する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken はトークンのSHA-256ハッシュを16進文字列で返す。
// 平文トークンは保存せず、ハッシュのみを永続化するために使用する。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateNumericCode は暗号的に安全な6桁の数字コードを生成する。
// SMS検証コードとマジックコードに使用する。先頭ゼロ埋めで常に6桁を返す。
func GenerateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ConstantTimeEquals は2つの文字列を定数時間で比較する。
// 検証コードの照合でタイミング攻撃を防ぐために使用する。
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
