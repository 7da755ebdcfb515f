package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tokengate/internal/auth"
	"github.com/hitoshi/tokengate/internal/model"
)

// Authenticator はセッションのスナップショットからトークンの状態を判定するインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string, snapshot *model.SessionSnapshot) (*auth.Decision, error)
}

// NewAuthGuardMiddleware はリクエストごとにアクセストークンの有効性を確認するミドルウェアを返す。
// セッションがなければ401、リフレッシュに失敗すれば500を返し、後続のハンドラーは呼ばない。
// 有効なら最新のスナップショットのsubject IDとアクセストークンをコンテキストに格納する。
func NewAuthGuardMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				sessionID string
				snapshot  *model.SessionSnapshot
			)
			if sess, ok := SessionFromContext(r.Context()); ok {
				sessionID = sess.ID
				snap := sess.Snapshot
				snapshot = &snap
			}

			decision, err := authenticator.Authenticate(r.Context(), sessionID, snapshot)
			if err != nil {
				slog.Error("token lifecycle failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteAPIError(w, model.NewTokenRefreshFailedError())
				return
			}

			switch decision.State {
			case auth.StateValid:
				ctx := ContextWithIdentity(r.Context(), decision.Snapshot.SubjectID, decision.Snapshot.AccessToken)
				if decision.Refreshed {
					if sess, ok := SessionFromContext(ctx); ok {
						updated := *sess
						updated.Snapshot = *decision.Snapshot
						ctx = ContextWithSession(ctx, &updated)
					}
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			case auth.StateUnauthenticated:
				WriteAPIError(w, model.NewUnauthorizedError())
			default:
				WriteAPIError(w, model.NewTokenRefreshFailedError())
			}
		})
	}
}
