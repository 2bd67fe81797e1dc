// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/selahapp/identity/internal/audit"
	"github.com/selahapp/identity/internal/auth"
	"github.com/selahapp/identity/internal/config"
	"github.com/selahapp/identity/internal/database"
	"github.com/selahapp/identity/internal/delivery"
	"github.com/selahapp/identity/internal/handler"
	"github.com/selahapp/identity/internal/logger"
	"github.com/selahapp/identity/internal/metrics"
	"github.com/selahapp/identity/internal/middleware"
	"github.com/selahapp/identity/internal/repository"
	"github.com/selahapp/identity/internal/security"
	"github.com/selahapp/identity/internal/token"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("auth_mode", string(cfg.AuthMode)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	magicRepo := repository.NewPostgresMagicCodeRepo(db)
	auditRepo := repository.NewPostgresAuditLogRepo(db)

	// 3. セキュリティプリミティブとメトリクス
	hasher := security.NewPasswordHasher()
	sanitizer := security.NewValueSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ベアラートークン発行者
	// セッションモードでもシークレットが設定されていればマジックコード用に使う
	var issuer *token.Issuer
	if cfg.JWTSecret != "" {
		issuer, err = token.NewIssuer(cfg.JWTSecret, cfg.BearerTokenTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize token issuer: %w", err)
		}
	}

	// 5. 配信コラボレーター
	var mailer delivery.Mailer
	if cfg.SMTPHost != "" {
		mailer = delivery.NewSMTPMailer(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		mailer = delivery.NewLogMailer()
	}
	smsSender := delivery.NewLogSMSSender()
	templates := delivery.NewTemplates(sanitizer)

	// 6. ドメインサービスの初期化
	auditRecorder := audit.NewRecorder(auditRepo)

	verificationService := auth.NewVerificationService(
		userRepo, mailer, smsSender, templates, auditRecorder, collector,
		auth.VerificationConfig{
			BaseURL:        cfg.BaseURL,
			EmailTokenTTL:  cfg.EmailTokenTTL,
			ResendCooldown: cfg.ResendCooldown,
		},
	)

	// *token.Issuerのnilをインターフェースのnilとして渡すための変換
	var tokenIssuer auth.TokenIssuer
	if issuer != nil {
		tokenIssuer = issuer
	}

	authService := auth.NewService(
		userRepo, sessionRepo, hasher, tokenIssuer, verificationService,
		auditRecorder, collector,
		auth.ServiceConfig{
			Mode:             cfg.AuthMode,
			SessionTTL:       cfg.SessionMaxAge,
			MaxLoginAttempts: cfg.MaxLoginAttempts,
			LockoutDuration:  cfg.LockoutDuration,
		},
	)

	magicService := auth.NewMagicCodeService(
		userRepo, magicRepo, mailer, templates, tokenIssuer,
		auditRecorder, collector,
		auth.MagicConfig{
			CodeTTL:       cfg.MagicCodeTTL,
			TestAddresses: cfg.MagicTestAddresses,
			TestCode:      cfg.MagicTestCode,
		},
	)

	resetService := auth.NewPasswordResetService(
		userRepo, sessionRepo, hasher, mailer, templates,
		auditRecorder, collector,
		auth.PasswordResetConfig{
			BaseURL:  cfg.BaseURL,
			TokenTTL: cfg.PasswordResetTTL,
		},
	)

	// 7. ミドルウェア依存の構築
	rateLimiter := middleware.NewIPRateLimiter(middleware.DefaultIPRateLimiterConfig(), collector)
	defer rateLimiter.Stop()

	identityConfig := middleware.IdentityConfig{
		Sessions:   sessionRepo,
		Users:      userRepo,
		SessionTTL: cfg.SessionMaxAge,
	}
	if issuer != nil {
		identityConfig.Tokens = issuer
	}

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		IdentityConfig:    identityConfig,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService:          authService,
		VerificationService:  verificationService,
		MagicService:         magicService,
		PasswordResetService: resetService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: int(cfg.SessionMaxAge.Seconds()),
		},

		AdminService: authService,

		HealthHandler:  newHealthHandler(db),
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db interface{ PingContext(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
