package auth

import (
	"errors"
	"fmt"
)

// Op はプロバイダー呼び出しの種別を表す。
type Op string

const (
	OpExchange       Op = "exchange_code"
	OpVerifyIdentity Op = "verify_identity"
	OpRefresh        Op = "refresh_access_token"
)

// 呼び出し種別ごとのエラー。errors.Isで判定する。
var (
	ErrExchange             = errors.New("oauth code exchange failed")
	ErrIdentityVerification = errors.New("oauth identity verification failed")
	ErrRefresh              = errors.New("oauth access token refresh failed")
)

// 失敗原因ごとのエラー。errors.Isで判定する。
var (
	// ErrNetwork はプロバイダーに到達できない、タイムアウト、5xx/429応答のいずれか。
	// この種別のみリトライ対象になる。
	ErrNetwork = errors.New("provider unreachable")
	// ErrMalformedResponse はJSONでない、または必須フィールドが欠けた応答。
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrAuthorizationDenied はプロバイダーがグラントやトークンを拒否した応答（4xx）。
	ErrAuthorizationDenied = errors.New("provider denied authorization")
)

// ProviderError はOAuthプロバイダー呼び出しの失敗を表す。
// errors.Isで呼び出し種別（ErrExchange等）と失敗原因（ErrNetwork等）の両方に一致する。
type ProviderError struct {
	Op           Op
	Kind         error  // ErrNetwork, ErrMalformedResponse, ErrAuthorizationDenied のいずれか
	StatusCode   int    // HTTP応答を受け取れなかった場合は0
	ProviderCode string // プロバイダーが返したerrorフィールド（invalid_grant等）
	Err          error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.ProviderCode != "" {
		msg += fmt.Sprintf(" [%s]", e.ProviderCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is は呼び出し種別と失敗原因のセンチネルエラーに一致する。
func (e *ProviderError) Is(target error) bool {
	return target == e.Kind || target == e.Op.sentinel()
}

func (op Op) sentinel() error {
	switch op {
	case OpExchange:
		return ErrExchange
	case OpVerifyIdentity:
		return ErrIdentityVerification
	case OpRefresh:
		return ErrRefresh
	default:
		return nil
	}
}

// retryable はリトライ対象の失敗かどうかを返す。
func (e *ProviderError) retryable() bool {
	return e.Kind == ErrNetwork
}
