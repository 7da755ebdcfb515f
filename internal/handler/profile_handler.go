package handler

import (
	"fmt"
	"net/http"

	"github.com/hitoshi/tokengate/internal/middleware"
	"github.com/hitoshi/tokengate/internal/security"
)

// ProfileHandler はブラウザ向けのページを返すハンドラー。
// プロバイダーから受け取った表示名はHTMLに埋め込む前にサニタイズする。
type ProfileHandler struct {
	sanitizer security.TextSanitizer
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(sanitizer security.TextSanitizer) *ProfileHandler {
	return &ProfileHandler{sanitizer: sanitizer}
}

// Index はログインリンクを表示する。
// GET /
func (h *ProfileHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, ok := middleware.SessionFromContext(r.Context()); ok {
		fmt.Fprint(w, `<p><a href="/profile">Profile</a> | <a href="/logout">Logout</a></p>`)
		return
	}
	fmt.Fprint(w, `<p><a href="/auth/start">Login with Google</a></p>`)
}

// Profile はログイン中のユーザー名を表示する。セッションがなければトップへリダイレクトする。
// GET /profile
func (h *ProfileHandler) Profile(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	name := h.sanitizer.SanitizeText(sess.Snapshot.DisplayName)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<p>Hello, %s</p><p><a href="/api/data">Data</a> | <a href="/logout">Logout</a></p>`, name)
}
