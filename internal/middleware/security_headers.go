package middleware

import "net/http"

// contentSecurityPolicy はサーバーが返すHTMLにスクリプトやフレームを許可しない。
const contentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'; base-uri 'none'"

// SecurityHeadersConfig はセキュリティヘッダーの設定。
type SecurityHeadersConfig struct {
	// HSTS はStrict-Transport-Securityを付与するかどうか。HTTPSで公開する場合のみ有効にする。
	HSTS bool
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// レスポンスはセッションごとに異なるため、すべてキャッシュ禁止とする。
func NewSecurityHeadersMiddleware(config SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			h.Set("Cache-Control", "no-store")
			if config.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
