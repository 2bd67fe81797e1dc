package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/selahapp/identity/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	IdentityConfig    middleware.IdentityConfig
	RateLimiter       *middleware.IPRateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService          AuthServiceInterface
	VerificationService  VerificationServiceInterface
	MagicService         MagicServiceInterface
	PasswordResetService PasswordResetServiceInterface
	AuthConfig           AuthHandlerConfig

	// 管理者
	AdminService AdminServiceInterface

	// 運用エンドポイント
	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → Identity → CSRF
//
// IP単位のレート制限は対象エンドポイントにのみ個別に適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewIdentityMiddleware(deps.IdentityConfig))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(
		deps.AuthService,
		deps.VerificationService,
		deps.MagicService,
		deps.PasswordResetService,
		deps.RateLimiter,
		deps.AuthConfig,
	)
	adminHandler := NewAdminHandler(deps.AdminService)

	rl := deps.RateLimiter

	// --- 認証不要のルート ---

	r.Route("/auth", func(r chi.Router) {
		// ログインは残量の確認のみを行い、失敗確定時にハンドラーが消費する
		r.With(rl.PeekMiddleware(middleware.ScopeLogin)).Post("/login", authHandler.Login)
		r.With(rl.Middleware(middleware.ScopeRegister)).Post("/register", authHandler.Register)

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// メールアドレス検証
		r.Get("/verify-email", authHandler.VerifyEmailLink)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/send-verification", authHandler.SendVerification)

		// パスワードレスログイン
		r.With(rl.Middleware(middleware.ScopeMagicRequest)).Post("/magic/request", authHandler.RequestMagicCode)
		r.With(rl.Middleware(middleware.ScopeMagicVerify)).Post("/magic/verify", authHandler.VerifyMagicCode)

		// パスワードリセット
		r.Route("/password-reset", func(r chi.Router) {
			r.With(rl.Middleware(middleware.ScopePasswordReset)).Post("/request", authHandler.RequestPasswordReset)
			r.Post("/confirm", authHandler.ConfirmPasswordReset)
		})
	})

	// --- 認証が必要なルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Post("/auth/verify-sms", authHandler.VerifySMS)
	})

	// --- 管理者ルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin)

		r.Route("/api/admin/users/{id}", func(r chi.Router) {
			r.Post("/lock", adminHandler.LockUser)
			r.Post("/unlock", adminHandler.UnlockUser)
		})
	})

	// --- 運用エンドポイント ---

	if deps.HealthHandler != nil {
		r.Get("/health", deps.HealthHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	return r
}
