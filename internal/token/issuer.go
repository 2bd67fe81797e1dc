// Package token は署名付きベアラートークンの発行と検証を提供する。
// ネイティブクライアント向けに、サーバー側セッションの代わりとなる
// 自己完結型のクレデンシャルを発行する。
package token

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/selahapp/identity/internal/model"
)

// Claims はベアラートークンに含めるクレーム。
// セッションと同じ3つの主張（ユーザーID、ユーザー名、管理者フラグ）をエンコードし、
// 下流の認可ロジックがチャネル非依存になるようにする。
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Issuer はHS256署名付きベアラートークンを発行・検証する。
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer はIssuerを生成する。
// secretが空の場合はエラーを返す（設定不備の早期検出）。
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("bearer token signing secret is required")
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Issue はユーザーに対するベアラートークンを発行する。
// 有効期限は固定で、再認証なしの更新はできない。
func (i *Issuer) Issue(user *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Email:    user.Email,
		Admin:    user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign bearer token: %w", err)
	}

	return signed, nil
}

// Verify はベアラートークンを検証し、クレームを返す。
// 署名方式はHS256に限定し、アルゴリズム混同攻撃を防ぐ。
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse bearer token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid bearer token")
	}

	return claims, nil
}

// SubjectUserID はクレームのsubjectをユーザーIDとして解釈する。
func (c *Claims) SubjectUserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, nil
}
