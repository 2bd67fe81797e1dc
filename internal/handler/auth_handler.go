// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/selahapp/identity/internal/auth"
	"github.com/selahapp/identity/internal/middleware"
	"github.com/selahapp/identity/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, input auth.RegisterInput, meta auth.RequestMeta) (*model.User, error)
	Login(ctx context.Context, identifier, password string, meta auth.RequestMeta) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string, identity model.Identity, meta auth.RequestMeta) error
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
}

// VerificationServiceInterface はメール・SMS検証のサービスインターフェース。
type VerificationServiceInterface interface {
	Resend(ctx context.Context, email string, meta auth.RequestMeta) (time.Time, error)
	VerifyEmail(ctx context.Context, token string, meta auth.RequestMeta) (*model.User, error)
	VerifySMS(ctx context.Context, userID int64, code string, meta auth.RequestMeta) error
}

// MagicServiceInterface はパスワードレスログインのサービスインターフェース。
type MagicServiceInterface interface {
	RequestCode(ctx context.Context, email string, meta auth.RequestMeta) (string, error)
	VerifyCode(ctx context.Context, requestToken, code string, meta auth.RequestMeta) (*model.User, string, error)
}

// PasswordResetServiceInterface はパスワードリセットのサービスインターフェース。
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, email string, meta auth.RequestMeta) error
	Confirm(ctx context.Context, token, newPassword string, meta auth.RequestMeta) error
}

// RateConsumer は結果確定後のレート消費インターフェース。
// ログインは成功リクエストをカウントに含めないため、
// ハンドラー側で失敗が確定してから1回分を消費する。
type RateConsumer interface {
	Consume(scope middleware.Scope, ip string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service      AuthServiceInterface
	verification VerificationServiceInterface
	magic        MagicServiceInterface
	reset        PasswordResetServiceInterface
	limiter      RateConsumer
	config       AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	verification VerificationServiceInterface,
	magic MagicServiceInterface,
	reset PasswordResetServiceInterface,
	limiter RateConsumer,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:      service,
		verification: verification,
		magic:        magic,
		reset:        reset,
		limiter:      limiter,
		config:       config,
	}
}

// Register は新規ユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	}, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse(user))
}

// Login はユーザー名またはメールアドレスとパスワードで認証する。
// POST /auth/login
//
// 失敗レスポンス（401/423）を返す場合のみIPのログイン試行枠を消費する。
// 成功したログインはカウントに含めない。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Identifier, req.Password, requestMeta(r))
	if err != nil {
		if isAuthFailure(err) {
			h.limiter.Consume(middleware.ScopeLogin, middleware.ClientIP(r))
		}
		writeServiceError(w, err)
		return
	}

	body := map[string]any{
		"user": userResponse(result.User),
	}

	if result.Session != nil {
		h.setSessionCookie(w, result.Session.ID, h.config.SessionMaxAge)
	}
	if result.BearerToken != "" {
		body["token"] = result.BearerToken
	}

	writeJSON(w, http.StatusOK, body)
}

// Logout はセッションを破棄し、Cookieをクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	identity, _ := middleware.IdentityFromContext(r.Context())
	if err := h.service.Logout(r.Context(), sessionID, identity, requestMeta(r)); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		// ログアウト失敗してもCookieはクリアする
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me（要認証）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok || !identity.Authenticated {
		writeServiceError(w, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}

// RequestMagicCode はパスワードレスログイン用のコードを発行する。
// POST /auth/magic/request
func (h *AuthHandler) RequestMagicCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	token, err := h.magic.RequestCode(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_token": token,
	})
}

// VerifyMagicCode はコードを検証してベアラートークンを発行する。
// POST /auth/magic/verify
func (h *AuthHandler) VerifyMagicCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestToken string `json:"request_token"`
		Code         string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	user, token, err := h.magic.VerifyCode(r.Context(), req.RequestToken, req.Code, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userResponse(user),
	})
}

// VerifyEmailLink はメール内の確認リンクからの検証を処理する。
// GET /auth/verify-email?token=xxx
// ブラウザから開かれるため、AcceptヘッダーがJSONを要求しない限りHTMLを返す。
func (h *AuthHandler) VerifyEmailLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := h.verification.VerifyEmail(r.Context(), token, requestMeta(r))

	if wantsJSON(r) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(user))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, verifyFailurePage)
		return
	}
	fmt.Fprint(w, verifySuccessPage)
}

// VerifyEmail はAPI経由のメールアドレス検証を処理する。
// POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	user, err := h.verification.VerifyEmail(r.Context(), req.Token, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}

// SendVerification は確認メールを再送する。
// POST /auth/send-verification
func (h *AuthHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	nextAllowed, err := h.verification.Resend(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"next_allowed_at": nextAllowed.Format(time.RFC3339),
	})
}

// VerifySMS はSMS検証コードを照合する。
// POST /auth/verify-sms（要認証）
func (h *AuthHandler) VerifySMS(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok || !identity.Authenticated {
		writeServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	if err := h.verification.VerifySMS(r.Context(), identity.UserID, req.Code, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sms_verified": true,
	})
}

// RequestPasswordReset はパスワードリセット用のメールを送る。
// POST /auth/password-reset/request
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	if err := h.reset.Request(r.Context(), req.Email, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent": true,
	})
}

// ConfirmPasswordReset はリセットトークンで新しいパスワードを設定する。
// POST /auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	if err := h.reset.Confirm(r.Context(), req.Token, req.NewPassword, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"updated": true,
	})
}

// setSessionCookie はセッションCookieを設定またはクリアする。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requestMeta はリクエストから監査ログ用の出所情報を取り出す。
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// userResponse はユーザーのAPIレスポンス表現を返す。
// クレデンシャル関連のフィールドは含めない。
func userResponse(user *model.User) map[string]any {
	return map[string]any{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"phone":          user.Phone,
		"email_verified": user.EmailVerified,
		"sms_verified":   user.SMSVerified,
		"is_admin":       user.IsAdmin,
		"created_at":     user.CreatedAt.Format(time.RFC3339),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログに残し、一般的な500を返す。
func writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	slog.Error("unexpected service error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// isAuthFailure はログイン試行としてカウントすべき失敗かどうかを判定する。
// 認証情報の誤り（401）とロック中の試行（423）が対象で、
// 検証未完了（403）やシステムエラーはカウントしない。
func isAuthFailure(err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == model.ErrCodeInvalidCredentials || apiErr.Code == model.ErrCodeAccountLocked
}

// wantsJSON はAcceptヘッダーがJSONレスポンスを要求しているかどうかを返す。
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// 確認リンク用の簡易HTMLページ。
const verifySuccessPage = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>メールアドレスの確認</title></head>
<body>
<h1>メールアドレスの確認が完了しました</h1>
<p>アプリに戻ってログインしてください。</p>
</body>
</html>`

const verifyFailurePage = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>メールアドレスの確認</title></head>
<body>
<h1>確認リンクが無効です</h1>
<p>リンクの有効期限が切れているか、既に使用されています。アプリから確認メールを再送してください。</p>
</body>
</html>`
