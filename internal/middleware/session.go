// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tokengate/internal/model"
	"github.com/hitoshi/tokengate/internal/session"
)

// contextKey はcontext.Valueで使用するキーの型。
type contextKey string

const (
	sessionContextKey     contextKey = "session"
	subjectIDContextKey   contextKey = "subject_id"
	accessTokenContextKey contextKey = "access_token"
)

// SessionFinder はセッションの検索を行うインターフェース。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// CookieDecoder は署名付きCookie値からセッションIDを取り出すインターフェース。
type CookieDecoder interface {
	Decode(value string) (string, error)
}

// defaultLookupTimeout はセッション参照1回あたりの既定の期限。
const defaultLookupTimeout = 5 * time.Second

// SessionOption はセッションミドルウェアの設定オプション。
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	lookupTimeout time.Duration
}

// WithLookupTimeout はセッションストア参照の期限を設定する。
func WithLookupTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		if d > 0 {
			o.lookupTimeout = d
		}
	}
}

// NewSessionMiddleware はCookieからセッションを復元し、コンテキストに格納するミドルウェアを返す。
// セッションがなくてもリクエストは拒否しない。認証の要否はAuthGuardが判定する。
// Cookieの署名が不正な場合やストアの参照に失敗した場合も、セッションなしとして扱う。
// ストアの参照が期限内に終わらない場合も参照失敗として扱う。
func NewSessionMiddleware(codec CookieDecoder, finder SessionFinder, opts ...SessionOption) func(next http.Handler) http.Handler {
	o := sessionOptions{lookupTimeout: defaultLookupTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(session.CookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, err := codec.Decode(cookie.Value)
			if err != nil {
				slog.Debug("session cookie rejected", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			lookupCtx, cancel := context.WithTimeout(r.Context(), o.lookupTimeout)
			sess, err := finder.FindByID(lookupCtx, sessionID)
			cancel()
			if err != nil {
				slog.Error("failed to load session", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// ContextWithSession はセッションをコンテキストに設定する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext はコンテキストからセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	return sess, ok && sess != nil
}

// SubjectIDFromContext はコンテキストからsubject IDを取得する。
// AuthGuardを通過したリクエストでのみ設定される。
func SubjectIDFromContext(ctx context.Context) (string, error) {
	subjectID, ok := ctx.Value(subjectIDContextKey).(string)
	if !ok || subjectID == "" {
		return "", errors.New("subject ID not found in context")
	}
	return subjectID, nil
}

// AccessTokenFromContext はコンテキストから有効なアクセストークンを取得する。
// AuthGuardを通過したリクエストでのみ設定される。
func AccessTokenFromContext(ctx context.Context) (string, error) {
	token, ok := ctx.Value(accessTokenContextKey).(string)
	if !ok || token == "" {
		return "", errors.New("access token not found in context")
	}
	return token, nil
}

// ContextWithIdentity は認証済みのsubject IDとアクセストークンをコンテキストに設定する。
// テストやAuthGuardから使用する。
func ContextWithIdentity(ctx context.Context, subjectID, accessToken string) context.Context {
	ctx = context.WithValue(ctx, subjectIDContextKey, subjectID)
	return context.WithValue(ctx, accessTokenContextKey, accessToken)
}
