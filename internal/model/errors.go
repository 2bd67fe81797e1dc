// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法、対応するHTTPステータスコードを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, rate_limit, system
	Action   string // ユーザー向け対処方法
	Status   int    // HTTPステータスコード（レスポンスボディには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeDuplicateResource     = "DUPLICATE_RESOURCE"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked         = "ACCOUNT_LOCKED"
	ErrCodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	ErrCodePhoneNotVerified      = "PHONE_NOT_VERIFIED"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeCooldown              = "COOLDOWN"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodePersistence           = "PERSISTENCE_ERROR"
)

// NewValidationError は入力値不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
		Status:   400,
	}
}

// NewDuplicateResourceError はユーザー名またはメールアドレスの重複エラーを生成する。
func NewDuplicateResourceError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateResource,
		Message:  fmt.Sprintf("この%sは既に使用されています。", field),
		Category: "validation",
		Action:   "別の値を指定してください。",
		Status:   400,
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// remainingは残り試行回数のヒント。
func NewInvalidCredentialsError(remaining int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  fmt.Sprintf("ユーザー名またはパスワードが正しくありません。（残り試行回数: %d回）", remaining),
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
		Status:   401,
	}
}

// NewAccountLockedError はアカウントロックアウトエラーを生成する。
// remainingMinutesはロック解除までの残り分数。
func NewAccountLockedError(remainingMinutes int) *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  fmt.Sprintf("ログイン失敗が続いたため、アカウントを一時的にロックしています。（解除まで約%d分）", remainingMinutes),
		Category: "auth",
		Action:   "ロック解除までお待ちいただくか、パスワードリセットをご利用ください。",
		Status:   423,
	}
}

// NewEmailNotVerifiedError はメールアドレス未検証エラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "メールアドレスの確認が完了していません。",
		Category: "auth",
		Action:   "登録メールアドレスに届いた確認リンクを開いてください。",
		Status:   403,
	}
}

// NewPhoneNotVerifiedError は電話番号未検証エラーを生成する。
func NewPhoneNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodePhoneNotVerified,
		Message:  "電話番号の確認が完了していません。",
		Category: "auth",
		Action:   "SMSで届いた確認コードを入力してください。",
		Status:   403,
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "rate_limit",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   429,
	}
}

// NewInvalidOrExpiredTokenError は無効または期限切れのトークン・コードのエラーを生成する。
// reasonには内部的な失敗理由（unknown token / expired / code mismatch等）を指定する。
func NewInvalidOrExpiredTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredToken,
		Message:  fmt.Sprintf("トークンまたはコードが無効か、有効期限が切れています。（%s）", reason),
		Category: "auth",
		Action:   "最初からやり直して、新しいトークンを取得してください。",
		Status:   400,
	}
}

// NewCooldownError は再送クールダウン中のエラーを生成する。
// remainingSecondsは再送可能になるまでの残り秒数。
func NewCooldownError(remainingSeconds int) *APIError {
	return &APIError{
		Code:     ErrCodeCooldown,
		Message:  fmt.Sprintf("再送はまだできません。（あと%d秒）", remainingSeconds),
		Category: "rate_limit",
		Action:   "表示された秒数が経過してから再度お試しください。",
		Status:   429,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認してください。",
		Status:   404,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
		Status:   401,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
		Status:   403,
	}
}

// NewConfigurationError はサーバー設定不備のエラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewConfigurationError() *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  "サーバーの設定に問題があります。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   500,
	}
}

// NewPersistenceError は呼び出し元が依存する書き込みの失敗エラーを生成する。
// セッション保存の失敗など、無視するとクライアントとサーバーの状態が食い違う場合に使用する。
func NewPersistenceError() *APIError {
	return &APIError{
		Code:     ErrCodePersistence,
		Message:  "データの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   500,
	}
}
