package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tokengate/internal/auth"
	"github.com/hitoshi/tokengate/internal/config"
	"github.com/hitoshi/tokengate/internal/database"
	"github.com/hitoshi/tokengate/internal/googleapi"
	"github.com/hitoshi/tokengate/internal/handler"
	"github.com/hitoshi/tokengate/internal/logger"
	"github.com/hitoshi/tokengate/internal/metrics"
	"github.com/hitoshi/tokengate/internal/middleware"
	"github.com/hitoshi/tokengate/internal/repository"
	"github.com/hitoshi/tokengate/internal/session"
	"github.com/hitoshi/tokengate/internal/telemetry"
	"github.com/hitoshi/tokengate/internal/worker/cleanup"
)

const serviceName = "tokengate"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. トレーシング（OTEL_EXPORTER_ENDPOINT未設定ならno-op）
	shutdownTracing, err := telemetry.Setup(context.Background(), serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. リポジトリとセッションストアの初期化
	identities := newIdentityRepository(cfg.DatabaseURL, db)
	sessions, closeSessions, err := newSessionStore(context.Background(), cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	oauthClient := auth.NewGoogleOAuthClient(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       cfg.GoogleScopes,
		Timeout:      cfg.ProviderTimeout,
		MaxAttempts:  cfg.ProviderMaxAttempts,
	})
	authService := auth.NewService(oauthClient, identities, sessions, collector, auth.ServiceConfig{
		SessionMaxAge:        cfg.SessionMaxAge,
		RefreshTokenLifetime: cfg.RefreshTokenLifetime,
		StoreTimeout:         cfg.StoreTimeout,
	})
	manager := auth.NewTokenLifecycleManager(oauthClient, identities, sessions,
		auth.WithMetrics(collector),
		auth.WithStoreTimeout(cfg.StoreTimeout),
	)
	providerAPI := googleapi.NewClient(
		&http.Client{Timeout: cfg.ProviderTimeout},
		slog.Default(),
		cfg.ProviderAPIURL,
	)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitAPI))
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		HealthChecker:  db,
		Metrics:        collector,
		MetricsHandler: metrics.SetupMetricsRoute(registry),

		SessionFinder:     sessions,
		StoreTimeout:      cfg.StoreTimeout,
		Cookies:           session.NewCookieCodec(cfg.SessionSecret),
		Authenticator:     manager,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProviderAPI: providerAPI,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen failed: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 有効期限切れセッションを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionStore != config.SessionStorePostgres {
		// Redisはキーの有効期限で失効し、メモリストアはプロセスごとに独立している
		slog.Info("session cleanup is not needed for this session store, worker exits",
			slog.String("session_store", cfg.SessionStore),
		)
		return nil
	}

	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. セッションストアの初期化
	sessions, err := newPostgresSessionRepo(cfg.DatabaseURL, db)
	if err != nil {
		return err
	}

	// 3. クリーンアップジョブの初期化
	job := cleanup.NewCleanupJob(sessions, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", database.Driver(cfg.DatabaseURL)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", database.Driver(databaseURL)),
	)
	return db, nil
}

// newIdentityRepository はDATABASE_URLのドライバに対応するリポジトリを返す。
func newIdentityRepository(databaseURL string, db *sql.DB) repository.IdentityRepository {
	if database.Driver(databaseURL) == database.DriverSQLite {
		return repository.NewSQLiteIdentityRepo(db)
	}
	return repository.NewPostgresIdentityRepo(db)
}

// newPostgresSessionRepo はPostgreSQLのセッションテーブルを使うストアを返す。
// sessionsテーブルはPostgreSQLにのみ存在するため、SQLiteの場合は起動時にエラーにする。
func newPostgresSessionRepo(databaseURL string, db *sql.DB) (*repository.PostgresSessionRepo, error) {
	if database.Driver(databaseURL) != database.DriverPostgres {
		return nil, fmt.Errorf("SESSION_STORE=%s requires a PostgreSQL DATABASE_URL, use %s or %s with SQLite",
			config.SessionStorePostgres, config.SessionStoreRedis, config.SessionStoreMemory)
	}
	return repository.NewPostgresSessionRepo(db), nil
}

// newSessionStore はSESSION_STOREに対応するセッションストアと、その後始末関数を返す。
func newSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionStore, func(), error) {
	noop := func() {}

	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis at %s: %w", redactURL(cfg.RedisURL), err)
		}

		slog.Info("redis session store connected", slog.String("addr", opts.Addr))
		return repository.NewRedisSessionStore(client), func() { client.Close() }, nil

	case config.SessionStoreMemory:
		slog.Warn("using in-memory session store, sessions are lost on restart")
		return repository.NewMemorySessionStore(), noop, nil

	default:
		store, err := newPostgresSessionRepo(cfg.DatabaseURL, db)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// redactURL はURLに含まれるパスワードを伏せ字にする。
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
