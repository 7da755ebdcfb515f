package middleware

import "net/http"

// NewCORSMiddleware は/api配下向けのCORSミドルウェアを返す。
// リクエストのOriginが許可オリジンと一致する場合のみCORSヘッダーを付与する。
// セッションCookieを送らせるためワイルドカード(*)は使用しない。
// OPTIONSプリフライトには一致の有無にかかわらず204で応答し、後続には渡さない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && origin == allowedOrigin {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				// レート制限時の待機秒数をブラウザ側から読めるようにする
				h.Set("Access-Control-Expose-Headers", "Retry-After")
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					h.Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
