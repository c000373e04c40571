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
	"github.com/winnersop/winnersop-api/internal/auth"
	"github.com/winnersop/winnersop-api/internal/config"
	"github.com/winnersop/winnersop-api/internal/database"
	"github.com/winnersop/winnersop-api/internal/handler"
	"github.com/winnersop/winnersop-api/internal/logger"
	"github.com/winnersop/winnersop-api/internal/metrics"
	"github.com/winnersop/winnersop-api/internal/middleware"
	"github.com/winnersop/winnersop-api/internal/notify"
	"github.com/winnersop/winnersop-api/internal/repository"
	"github.com/winnersop/winnersop-api/internal/security"
	"github.com/winnersop/winnersop-api/internal/token"
	"github.com/winnersop/winnersop-api/internal/user"
	"github.com/winnersop/winnersop-api/internal/worker/cleanup"
)

// googleHosts はGoogle OAuthで通信を許可するホスト。
var googleHosts = []string{"accounts.google.com", "oauth2.googleapis.com", "www.googleapis.com"}

// outboundTimeout は外部IdPへのHTTPリクエストのタイムアウト。
const outboundTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
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
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("api_prefix", cfg.APIPrefix),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandSweep:
		return runSweep(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// services はserve/workerで共有するドメインサービス。
type services struct {
	resolver *user.Resolver
	issuer   *token.Issuer
	otp      *auth.OTPManager
	social   *auth.SocialLogin
}

// buildServices はリポジトリからドメインサービスまでを組み立てる。
func buildServices(cfg *config.Config, db *sql.DB, notifier notify.Notifier, collector metrics.MetricsCollector) (*services, error) {
	// 1. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	otpRepo := repository.NewPostgresOTPRepo(db)

	// 2. トークン発行の初期化
	issuer, err := token.NewIssuer(token.Config{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.JWTAccessExpiration,
		RefreshTTL: cfg.JWTRefreshExpiration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	if cfg.JWTSecret == token.DevelopmentSecret {
		slog.Warn("using development JWT secret; set JWT_SECRET outside development")
	}

	// 3. ドメインサービスの初期化
	resolver := user.NewResolver(accountRepo, security.NewTextSanitizer())

	otpManager := auth.NewOTPManager(resolver, otpRepo, issuer, notifier, collector, auth.OTPConfig{
		CodeLength:     cfg.OTPLength,
		TTL:            cfg.OTPExpiry,
		MaxAttempts:    cfg.OTPMaxAttempts,
		ResendCooldown: cfg.OTPResendCooldown,
		UsedRetention:  cfg.OTPUsedRetention,
		NotifyTimeout:  cfg.NotifyTimeout,
	})

	google, err := buildGoogleProvider(cfg)
	if err != nil {
		return nil, err
	}
	social := auth.NewSocialLogin(resolver, issuer, google, collector)

	return &services{
		resolver: resolver,
		issuer:   issuer,
		otp:      otpManager,
		social:   social,
	}, nil
}

// buildGoogleProvider はGoogle OAuthが設定されている場合のみプロバイダーを生成する。
// 通信先はGoogleのエンドポイントに限定する。
func buildGoogleProvider(cfg *config.Config) (auth.OAuthProvider, error) {
	if !cfg.GoogleEnabled() {
		slog.Info("google oauth disabled")
		return nil, nil
	}

	guard := security.NewOutboundGuard(googleHosts...)
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, guard.NewClient(outboundTimeout))

	for _, endpoint := range provider.Endpoints() {
		if err := guard.ValidateURL(endpoint); err != nil {
			return nil, fmt.Errorf("invalid google oauth endpoint: %w", err)
		}
	}
	return provider, nil
}

// buildNotifier はSMTPが設定されていればSMTP送信、なければログ出力のNotifierを返す。
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST is not set; OTP emails are written to the log instead of being sent")
		return notify.NewLogNotifier(slog.Default()), nil
	}

	smtpNotifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailSender,
		FromName: cfg.MailFromName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp notifier: %w", err)
	}
	return smtpNotifier, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス・通知の初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	// 3. ドメインサービスの初期化
	svc, err := buildServices(cfg, db, notifier, collector)
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitOTP))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		APIPrefix:         cfg.APIPrefix,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TokenVerifier:     svc.issuer,
		Authorizer:        svc.resolver,
		Logger:            slog.Default(),

		OTPService:    svc.otp,
		SocialService: svc.social,
		AuthConfig:    handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},

		UserService: handler.NewUserServiceAdapter(svc.resolver),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. OTPスイープをサーバー内で実行する場合はバックグラウンドで起動
	if cfg.OTPSweepInServer {
		sweepJob := cleanup.NewSweepJob(svc.otp, slog.Default())
		sweepJob.Interval = cfg.OTPSweepInterval
		go sweepJob.Start(ctx)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れ・使用済みOTPのスイープを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. ドメインサービスの初期化（ワーカーはメールを送信しない）
	svc, err := buildServices(cfg, db, notify.NewLogNotifier(slog.Default()), nil)
	if err != nil {
		return err
	}

	// 3. スイープジョブの初期化
	sweepJob := cleanup.NewSweepJob(svc.otp, slog.Default())
	sweepJob.Interval = cfg.OTPSweepInterval

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
		slog.Duration("sweep_interval", sweepJob.Interval),
	)

	// スイープをメインgoroutineで実行（ブロッキング）
	sweepJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweep は期限切れ・使用済みOTPのスイープを1回実行して終了する。
func runSweep(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildServices(cfg, db, notify.NewLogNotifier(slog.Default()), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := cleanup.NewSweepJob(svc.otp, slog.Default()).Run(ctx); err != nil {
		return fmt.Errorf("otp sweep failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
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
