package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/token"
)

// contextKey はコンテキストキーの衝突を防ぐための型。
type contextKey string

// identityContextKey は認証結果をコンテキストに保持するキー。
const identityContextKey contextKey = "identity"

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// touchThreshold はセッションのスライディング有効期限を延長する閾値。
// 有効期限の残りが (TTL - touchThreshold) を下回った場合のみ書き込みを行い、
// リクエストごとのDB書き込みを避ける。
const touchThreshold = time.Hour

// SessionStore はセッション検索と有効期限延長の最小インターフェース。
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
}

// UserFinder はユーザー検索の最小インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// TokenVerifier はベアラートークン検証の最小インターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// IdentityConfig はIdentityミドルウェアの依存。
// Tokensがnilの場合、ベアラートークンによる認証は行わない。
type IdentityConfig struct {
	Sessions   SessionStore
	Users      UserFinder
	Tokens     TokenVerifier
	SessionTTL time.Duration
}

// NewIdentityMiddleware はリクエストのクレデンシャルを解決し、
// 認証結果（model.Identity）をコンテキストに格納するミドルウェアを返す。
//
// Authorizationヘッダーのベアラートークンを優先し、なければセッションCookieを
// 参照する。どちらも解決できない場合は匿名として通過させる。
// 認証の強制はRequireAuth / RequireAdminが行う。
func NewIdentityMiddleware(config IdentityConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolveIdentity(r, config)
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveIdentity はリクエストから認証結果を解決する。
func resolveIdentity(r *http.Request, config IdentityConfig) model.Identity {
	if tokenString, ok := bearerToken(r); ok {
		return resolveBearer(tokenString, config)
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return resolveSession(r.Context(), cookie.Value, config)
	}
	return model.Anonymous()
}

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// resolveBearer はベアラートークンを検証してIdentityを返す。
// 検証失敗は匿名として扱う（エンドポイント側のRequireAuthが401を返す）。
func resolveBearer(tokenString string, config IdentityConfig) model.Identity {
	if config.Tokens == nil {
		return model.Anonymous()
	}

	claims, err := config.Tokens.Verify(tokenString)
	if err != nil {
		return model.Anonymous()
	}

	userID, err := claims.SubjectUserID()
	if err != nil {
		slog.Warn("bearer token has malformed subject", slog.String("error", err.Error()))
		return model.Anonymous()
	}

	return model.AuthenticatedIdentity(userID, claims.Username, claims.Admin)
}

// resolveSession はセッションIDを検証してIdentityを返す。
// 有効なアクセスのたびにスライディング有効期限を延長する（閾値を超えた場合のみ）。
func resolveSession(ctx context.Context, sessionID string, config IdentityConfig) model.Identity {
	session, err := config.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		return model.Anonymous()
	}
	if session == nil {
		return model.Anonymous()
	}

	user, err := config.Users.FindByID(ctx, session.UserID)
	if err != nil {
		slog.Error("failed to find session user", slog.String("error", err.Error()))
		return model.Anonymous()
	}
	if user == nil {
		return model.Anonymous()
	}

	// スライディング延長。延長の失敗はログインを妨げない。
	now := time.Now()
	newExpiry := now.Add(config.SessionTTL)
	if newExpiry.Sub(session.ExpiresAt) >= touchThreshold {
		if err := config.Sessions.Touch(ctx, session.ID, newExpiry); err != nil {
			slog.Warn("failed to extend session expiry",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return model.AuthenticatedIdentity(user.ID, user.Username, user.IsAdmin)
}

// RequireAuth は未認証リクエストを401で拒否するミドルウェア。
// NewIdentityMiddlewareの内側に配置すること。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || !identity.Authenticated {
			apiErr := model.NewUnauthorizedError()
			WriteErrorResponse(w, apiErr.Status, apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin は管理者以外のリクエストを拒否するミドルウェア。
// 未認証は401、認証済みだが管理者でない場合は403を返す。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || !identity.Authenticated {
			apiErr := model.NewUnauthorizedError()
			WriteErrorResponse(w, apiErr.Status, apiErr)
			return
		}
		if !identity.IsAdmin {
			apiErr := model.NewForbiddenError()
			WriteErrorResponse(w, apiErr.Status, apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はコンテキストから認証結果を取り出す。
// Identityミドルウェアを通過していない場合は ok=false を返す。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	return identity, ok
}

// ContextWithIdentity は認証結果を格納したコンテキストを返す。テスト用。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
