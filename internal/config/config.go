package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode は認証成功時に発行するクレデンシャルの種類を表す。
// デプロイ構成ごとに設定で1つを選択する（マウント順などの偶然に依存しない）。
type AuthMode string

const (
	// AuthModeSession はサーバー側セッション + HTTP Only Cookieを発行する。
	AuthModeSession AuthMode = "session"
	// AuthModeBearer は署名付きベアラートークンを発行する。
	AuthModeBearer AuthMode = "bearer"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthMode       AuthMode
	JWTSecret      string        // ベアラートークンの署名シークレット
	SessionMaxAge  time.Duration // セッションのスライディング有効期間
	BearerTokenTTL time.Duration // ベアラートークンの固定有効期間

	// Lockout
	MaxLoginAttempts int
	LockoutDuration  time.Duration

	// Verification
	EmailTokenTTL    time.Duration // メール検証トークンの有効期間
	ResendCooldown   time.Duration // 検証メール再送のクールダウン
	PasswordResetTTL time.Duration // パスワードリセットトークンの有効期間

	// Magic code
	MagicCodeTTL       time.Duration
	MagicTestAddresses []string // 固定コードを返すテスト用アドレス
	MagicTestCode      string

	// Delivery (未設定の場合はログ出力のみのno-opに縮退する)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Server
	ServerPort string
	BaseURL    string // 検証リンクの組み立てに使用する

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、およびベアラートークンモードで署名シークレットが
// 未設定の場合はエラーを返す（起動時の致命的エラーとして扱う）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Auth mode
	mode := AuthMode(getEnvString("AUTH_MODE", string(AuthModeSession)))
	if mode != AuthModeSession && mode != AuthModeBearer {
		return nil, fmt.Errorf("invalid AUTH_MODE: %q (must be %q or %q)", mode, AuthModeSession, AuthModeBearer)
	}
	cfg.AuthMode = mode

	cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthMode == AuthModeBearer && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required when AUTH_MODE=bearer")
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 30*24*time.Hour)
	cfg.BearerTokenTTL = getEnvDuration("BEARER_TOKEN_TTL", 7*24*time.Hour)

	cfg.MaxLoginAttempts = getEnvInt("MAX_LOGIN_ATTEMPTS", 10)
	cfg.LockoutDuration = getEnvDuration("LOCKOUT_DURATION", 2*time.Hour)

	cfg.EmailTokenTTL = getEnvDuration("EMAIL_TOKEN_TTL", 24*time.Hour)
	cfg.ResendCooldown = getEnvDuration("RESEND_COOLDOWN", 5*time.Minute)
	cfg.PasswordResetTTL = getEnvDuration("PASSWORD_RESET_TTL", 1*time.Hour)

	cfg.MagicCodeTTL = getEnvDuration("MAGIC_CODE_TTL", 15*time.Minute)
	cfg.MagicTestAddresses = splitList(os.Getenv("MAGIC_TEST_ADDRESSES"))
	cfg.MagicTestCode = getEnvString("MAGIC_TEST_CODE", "000000")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// splitList はカンマ区切りのリストを分割し、空要素を除去する。
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
