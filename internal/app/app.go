package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/fedlogin/internal/auth"
	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/config"
	"github.com/hitoshi/fedlogin/internal/database"
	"github.com/hitoshi/fedlogin/internal/handler"
	"github.com/hitoshi/fedlogin/internal/logger"
	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/middleware"
	"github.com/hitoshi/fedlogin/internal/repository"
	"github.com/hitoshi/fedlogin/internal/security"
	"github.com/hitoshi/fedlogin/internal/worker/cleanup"
)

// ProviderName はユーザーIDの接頭辞に使うIdP名。
const ProviderName = "facebook"

// 外部ストアへの起動時接続確認のタイムアウト
const connectTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envで指定されたLOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("APP_PORT")
		if port == "" {
			port = os.Getenv("SERVER_PORT")
		}
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
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("issuer", cfg.OIDCIssuer),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveモードで動作する依存関係一式。
type components struct {
	handler http.Handler
	sweeper *cleanup.SweepJob
	limiter *middleware.RateLimiter
	closers []func() error
}

// Close は開いた外部接続を逆順に閉じる。
func (c *components) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// newIdentityProvider はissuerのディスカバリを行い、FacebookのOIDCプロバイダーを生成する。
// OIDC_ALLOW_PRIVATE_NETWORKが無効な場合はsafeurlのクライアントでIdPと通信する。
func newIdentityProvider(ctx context.Context, cfg *config.Config) (auth.IdentityProvider, error) {
	httpClient := &http.Client{Timeout: cfg.OIDCTimeout}
	if !cfg.OIDCAllowPrivateNetwork {
		if err := security.ValidateProviderURL(cfg.OIDCIssuer); err != nil {
			return nil, fmt.Errorf("invalid OIDC issuer: %w", err)
		}
		httpClient = security.NewProviderHTTPClient(cfg.OIDCTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.OIDCTimeout)
	defer cancel()

	return auth.NewOIDCProvider(ctx, auth.OIDCProviderConfig{
		Name:        ProviderName,
		Issuer:      cfg.OIDCIssuer,
		ClientID:    cfg.FacebookClientID,
		RedirectURL: cfg.FacebookRedirectURL,
		HTTPClient:  httpClient,
	})
}

// buildComponents はストア、サービス、ルーターをワイヤリングする。
// IdPは呼び出し側で生成して渡す。
func buildComponents(ctx context.Context, cfg *config.Config, log *slog.Logger, provider auth.IdentityProvider) (*components, error) {
	c := &components{}
	clk := clock.System()
	healthChecks := map[string]handler.HealthCheck{}

	// 1. ログイン状態とセッションのストア
	var (
		pendingRepo repository.PendingLoginRepository
		sessionRepo repository.SessionRepository
	)
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, rdb.Close)
		healthChecks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		pendingRepo = repository.NewRedisPendingLoginRepo(rdb, clk)
		sessionRepo = repository.NewRedisSessionRepo(rdb, clk)
		log.Info("redis connection established")
	default:
		pendingRepo = repository.NewMemoryPendingLoginRepo(clk)
		sessionRepo = repository.NewMemorySessionRepo(clk)
	}

	// 2. ユーザーディレクトリ
	var userRepo repository.UserRepository
	if cfg.UsePostgres() {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		healthChecks["postgres"] = db.PingContext
		userRepo = repository.NewPostgresUserRepo(db, clk)
		log.Info("database connection established")
	} else {
		userRepo = repository.NewMemoryUserRepo(clk)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービス
	tokens := security.NewRandomTokenGenerator(security.DefaultTokenBytes)
	authService := auth.NewService(provider, pendingRepo, userRepo, sessionRepo, tokens, auth.ServiceConfig{
		StateTTL:   cfg.LoginStateTTL,
		SessionTTL: cfg.SessionTTL,
	}).WithMetrics(collector)
	authenticator := auth.NewAuthenticator(sessionRepo).WithMetrics(collector)

	// 5. 期限切れレコードの定期削除
	c.sweeper = cleanup.NewSweepJob(log,
		cleanup.Target{Name: "pending_logins", Store: pendingRepo},
		cleanup.Target{Name: "sessions", Store: sessionRepo},
	).WithRecorder(collector)

	// 6. ルーター
	c.limiter = middleware.NewRateLimiter(middleware.LoginRateLimiterConfig(cfg.RateLimitLogin)).WithRecorder(collector)
	c.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Authenticator:     authenticator,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       c.limiter,
		LoginService:      authService,
		UserService:       authService,
		HealthChecks:      healthChecks,
		Gatherer:          registry,
	})

	return c, nil
}

// openDatabase はPostgreSQLに接続し、AUTO_MIGRATEが有効ならマイグレーションを適用する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, connectTimeout); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// IdPのディスカバリとストア接続を行い、HTTPサーバーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := newIdentityProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	c, err := buildComponents(ctx, cfg, slog.Default(), provider)
	if err != nil {
		return err
	}
	defer c.Close()

	go c.sweeper.Start(ctx, cfg.SweepInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.UsePostgres() {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
