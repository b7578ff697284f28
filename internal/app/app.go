package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/staysafecovid19/api/internal/auth"
	"github.com/staysafecovid19/api/internal/config"
	"github.com/staysafecovid19/api/internal/database"
	"github.com/staysafecovid19/api/internal/handler"
	"github.com/staysafecovid19/api/internal/identity"
	"github.com/staysafecovid19/api/internal/logger"
	"github.com/staysafecovid19/api/internal/metrics"
	"github.com/staysafecovid19/api/internal/middleware"
	"github.com/staysafecovid19/api/internal/repository"
	"github.com/staysafecovid19/api/internal/security"
	"github.com/staysafecovid19/api/internal/serverless"
	"github.com/staysafecovid19/api/internal/validate"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ最大時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定値のログレベルで再設定
	logger.SetupDefault(w, cfg.LogLevel)

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
		slog.String("region", cfg.Region),
		slog.String("user_pool_id", cfg.UserPoolID),
	)

	switch cmd {
	case CommandLambda:
		return runLambda(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseDSN(), database.PoolConfig{
		MaxOpen: cfg.DBPoolMax,
		MaxIdle: cfg.DBPoolMin,
		IdleTTL: cfg.DBPoolIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBPoolAcquire)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseDSN())),
		slog.Int("pool_max", cfg.DBPoolMax),
		slog.Int("pool_min", cfg.DBPoolMin),
	)
	return db, nil
}

// newAuthService は認証サービスと依存関係をワイヤリングする。
func newAuthService(ctx context.Context, cfg *config.Config, db repository.Execer, reg prometheus.Registerer) (*auth.Service, *metrics.Collector, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	provider := identity.NewCognitoProvider(cip.NewFromConfig(awsCfg), identity.CognitoConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.ProviderTimeout,
	})
	profiles := repository.NewPostgresProfileRepo(db, cfg.DBPoolAcquire)
	validator := validate.New(security.NewNameSanitizer())
	collector := metrics.NewCollector(reg)

	return auth.NewService(provider, profiles, validator, collector), collector, nil
}

// newServer はHTTPサーバーを構成する。
func newServer(cfg *config.Config, db *sql.DB, service handler.AuthServiceInterface, collector *metrics.Collector, gatherer prometheus.Gatherer) (*http.Server, *middleware.RateLimiter) {
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCodeDelivery),
		collector,
	)

	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		AuthService:       service,
		Gatherer:          gatherer,
	}
	if db != nil {
		deps.HealthChecker = db
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Cognito呼び出しとDB書き込みが順に走るため、両方のタイムアウトより長くする
		WriteTimeout: cfg.ProviderTimeout + cfg.DBPoolAcquire + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server, rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	service, collector, err := newAuthService(ctx, cfg, db, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	server, rateLimiter := newServer(cfg, db, service, collector, prometheus.DefaultGatherer)
	defer rateLimiter.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runLambda はAWS Lambdaのハンドラーとして起動する。
// コールドスタート時に1回だけ依存関係をワイヤリングし、以降の呼び出しで共有する。
func runLambda(cfg *config.Config) error {
	ctx := context.Background()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Lambdaではスクレイプ先がないため、プロセス内のレジストリに記録するのみ
	service, _, err := newAuthService(ctx, cfg, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	h := serverless.NewHandler(service, cfg.CORSAllowedOrigin)

	slog.Info("lambda handler starting")
	lambda.Start(h.Invoke)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	dsn := cfg.DatabaseDSN()
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(dsn)),
	)

	version, err := database.RunMigrations(dsn)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
