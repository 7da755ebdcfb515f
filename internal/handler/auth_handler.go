// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tokengate/internal/auth"
	"github.com/hitoshi/tokengate/internal/middleware"
	"github.com/hitoshi/tokengate/internal/model"
	"github.com/hitoshi/tokengate/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// CookieEncoder はセッションIDを署名付きCookie値に変換するインターフェース。
type CookieEncoder interface {
	Encode(sessionID string, expiresAt time.Time) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies CookieEncoder
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies CookieEncoder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		config:  config,
	}
}

// Start はGoogle OAuthフローを開始する。
// GET /auth/start
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteAPIError(w, model.NewLoginFailedError("invalid state parameter"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 同意画面で拒否された場合はerrorパラメータが返る
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("oauth consent was not granted", slog.String("provider_error", providerErr))
		middleware.WriteAPIError(w, model.NewLoginFailedError("authorization was not granted"))
		return
	}

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		middleware.WriteAPIError(w, model.NewLoginFailedError("missing authorization code"))
		return
	}

	// 4. 認証処理
	sess, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrAuthorizationDenied) {
			slog.Warn("oauth callback rejected by provider", slog.String("error", err.Error()))
			middleware.WriteAPIError(w, model.NewLoginFailedError("authorization was rejected"))
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 5. 署名付きセッションCookieを設定（HTTP Only）
	value, err := h.cookies.Encode(sess.ID, sess.ExpiresAt)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/profile", http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), sess.ID); err != nil {
			// 削除に失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
