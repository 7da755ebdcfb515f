package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tokengate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとの既定のHTTPステータス。
var statusByCode = map[string]int{
	model.ErrCodeUnauthorized:       http.StatusUnauthorized,
	model.ErrCodeTokenRefreshFailed: http.StatusInternalServerError,
	model.ErrCodeProviderAPIFailed:  http.StatusBadGateway,
	model.ErrCodeInternal:           http.StatusInternalServerError,
	model.ErrCodeRateLimited:        http.StatusTooManyRequests,
	model.ErrCodeLoginFailed:        http.StatusBadRequest,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500として扱う。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードに対応するステータスで統一エラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// 認証状態に依存する応答のため、キャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
