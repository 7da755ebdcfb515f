package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tokengate/internal/googleapi"
	"github.com/hitoshi/tokengate/internal/middleware"
	"github.com/hitoshi/tokengate/internal/model"
)

// ProviderAPI はアクセストークンを使ってプロバイダーAPIを呼び出すインターフェース。
type ProviderAPI interface {
	Fetch(ctx context.Context, accessToken string) (json.RawMessage, error)
}

// APIHandler はAuthGuardの内側で動くAPIハンドラー。
type APIHandler struct {
	provider ProviderAPI
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(provider ProviderAPI) *APIHandler {
	return &APIHandler{provider: provider}
}

// Data は有効なアクセストークンでプロバイダーAPIを呼び出し、その応答をそのまま返す。
// GET /api/data
func (h *APIHandler) Data(w http.ResponseWriter, r *http.Request) {
	accessToken, err := middleware.AccessTokenFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	body, err := h.provider.Fetch(r.Context(), accessToken)
	if err != nil {
		slog.Error("provider api call failed", slog.String("error", err.Error()))

		reason := "upstream error"
		var statusErr *googleapi.StatusError
		if errors.Is(err, googleapi.ErrTokenRejected) {
			reason = "access token rejected"
		} else if errors.As(err, &statusErr) {
			reason = http.StatusText(statusErr.StatusCode)
		}
		middleware.WriteAPIError(w, model.NewProviderAPIFailedError(reason))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
