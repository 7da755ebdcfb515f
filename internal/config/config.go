package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッションストアの種別
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreMemory   = "memory"
)

// minSessionSecretLength はセッションCookie署名鍵の最小バイト長。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// OAuth
	GoogleClientID       string        `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret   string        `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL    string        `env:"GOOGLE_REDIRECT_URL,notEmpty"`
	GoogleScopes         []string      `env:"GOOGLE_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderMaxAttempts  int           `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"3"`
	RefreshTokenLifetime time.Duration `env:"REFRESH_TOKEN_LIFETIME" envDefault:"8760h"`
	ProviderAPIURL       string        `env:"PROVIDER_API_URL" envDefault:"https://www.googleapis.com/oauth2/v3/userinfo"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,notEmpty"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionStore           string        `env:"SESSION_STORE" envDefault:"postgres"`
	RedisURL               string        `env:"REDIS_URL"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Storage（リポジトリ・セッションストア呼び出しごとの期限）
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// Rate Limit（req/min/subject）
	RateLimitAPI int `env:"RATE_LIMIT_API" envDefault:"120"`

	// Logging / Tracing
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTELEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のキーをすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("required environment variables are not set: %w", err)
	}

	cfg.GoogleScopes = trimCSV(cfg.GoogleScopes)
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は型変換だけでは検出できない設定の整合性を検証する。
func (c *Config) validate() error {
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	switch c.SessionStore {
	case SessionStorePostgres, SessionStoreMemory:
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=%s", SessionStoreRedis)
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE: %q", c.SessionStore)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}

	if c.ProviderMaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be >= 1, got %d", c.ProviderMaxAttempts)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if len(c.GoogleScopes) == 0 {
		return fmt.Errorf("GOOGLE_SCOPES must not be empty")
	}

	return nil
}

// trimCSV はカンマ区切りで分割された値から空要素を取り除く。
func trimCSV(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
