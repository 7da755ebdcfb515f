package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	ErrCodeProviderAPIFailed  = "PROVIDER_API_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeLoginFailed        = "LOGIN_FAILED"
)

// NewUnauthorizedError は未ログインエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "/auth/start からログインしてください。",
	}
}

// NewTokenRefreshFailedError はアクセストークンの更新に失敗した場合のエラーを生成する。
// セッションは変更されないため、次のリクエストで再度更新が試行される。
func NewTokenRefreshFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenRefreshFailed,
		Message:  "アクセストークンの更新に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。解消しない場合は再ログインしてください。",
	}
}

// NewProviderAPIFailedError はプロバイダーAPIの呼び出しに失敗した場合のエラーを生成する。
func NewProviderAPIFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderAPIFailed,
		Message:  fmt.Sprintf("プロバイダーAPIの呼び出しに失敗しました: %s", reason),
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで指定された時間を待ってから再度お試しください。",
	}
}

// NewLoginFailedError はOAuthコールバックの処理に失敗した場合のエラーを生成する。
// reasonはユーザーに表示できる範囲の説明に限る。
func NewLoginFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  fmt.Sprintf("ログインに失敗しました: %s", reason),
		Category: "auth",
		Action:   "/auth/start から再度ログインしてください。",
	}
}
