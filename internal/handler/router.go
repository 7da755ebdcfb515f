package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tokengate/internal/metrics"
	"github.com/hitoshi/tokengate/internal/middleware"
	"github.com/hitoshi/tokengate/internal/security"
)

// CookieCodec はセッションCookieの署名と検証を行うインターフェース。
type CookieCodec interface {
	CookieEncoder
	middleware.CookieDecoder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	StoreTimeout      time.Duration // セッション参照の期限。0の場合は既定値
	Cookies           CookieCodec
	Authenticator     middleware.Authenticator
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロバイダーAPI
	ProviderAPI ProviderAPI
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Metrics → Session → Logging
//	  /api/*: CORS → AuthGuard → RateLimit
//
// Sessionはリクエストを拒否しない。401/500の判定は/api配下のAuthGuardだけが行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS: deps.AuthConfig.CookieSecure,
	}))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSessionMiddleware(deps.Cookies, deps.SessionFinder,
		middleware.WithLookupTimeout(deps.StoreTimeout),
	))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.AuthConfig)
	profileHandler := NewProfileHandler(security.NewDisplayNameSanitizer())
	apiHandler := NewAPIHandler(deps.ProviderAPI)

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ブラウザ向けのルート ---
	r.Get("/", profileHandler.Index)
	r.Get("/profile", profileHandler.Profile)
	r.Get("/logout", authHandler.Logout)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/start", authHandler.Start)
		r.Get("/callback", authHandler.Callback)
	})

	// --- アクセストークンが必要なルート ---
	// ミドルウェアスタック: CORS → AuthGuard → RateLimit
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewAuthGuardMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.Middleware())

		r.Get("/data", apiHandler.Data)
	})

	return r
}
