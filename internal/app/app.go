// Package app はコマンドの解析と依存関係のワイヤリングを行い、ゲートを起動する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/config"
	"github.com/hitoshi/navgate/internal/configdoc"
	"github.com/hitoshi/navgate/internal/handler"
	"github.com/hitoshi/navgate/internal/logger"
	"github.com/hitoshi/navgate/internal/metrics"
	"github.com/hitoshi/navgate/internal/middleware"
	"github.com/hitoshi/navgate/internal/model"
	"github.com/hitoshi/navgate/internal/objectstore"
	"github.com/hitoshi/navgate/internal/repository"
	"github.com/hitoshi/navgate/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待機時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
	log := slog.Default()

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("auth_mode", string(cfg.AuthMode)),
		slog.String("session_check", string(cfg.SessionCheck)),
	)

	switch cmd {
	case CommandPruneBackups:
		return runPruneBackups(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// gate はゲートの実行に必要な構成要素。
type gate struct {
	handler     http.Handler
	metrics     http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildGate は設定から全依存関係をワイヤリングする。
func buildGate(cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (*gate, error) {
	collector := metrics.NewCollector(reg)

	// 1. 上流ごとのHTTPクライアント（タイムアウトと計測付き）
	storeClient := newUpstreamClient(collector, "object_store", cfg.UpstreamTimeout)
	authClient := newUpstreamClient(collector, "auth", cfg.UpstreamTimeout)

	// 2. 設定ドキュメントの永続化
	store := newObjectStore(cfg, storeClient, log)
	pruner := cleanup.NewBackupCleanupJob(store, log, repository.BackupPrefix)
	pruner.Retention = cfg.BackupRetention
	repo := repository.NewR2ConfigRepo(store, pruner, log, collector)
	configService := configdoc.NewService(repo, model.NewAdminList(cfg.AdminEmails), cfg.GlobalMemoAnchor)

	// 3. オリジン
	originTransport := http.DefaultTransport.(*http.Transport).Clone()
	originTransport.ResponseHeaderTimeout = cfg.UpstreamTimeout
	origin, err := handler.NewOriginProxy(cfg.OriginURL, collector.InstrumentTransport("origin", originTransport))
	if err != nil {
		return nil, err
	}

	// 4. セッション方式
	cookies := auth.CookieSettings{
		Name:     cfg.SessionCookieName,
		MaxAge:   cfg.SessionMaxAge,
		Secure:   cfg.CookieSecure,
		SameSite: auth.ParseSameSite(cfg.CookieSameSite),
	}

	rateLimiter := middleware.NewRateLimiter(middleware.ConfigWriteRateLimiterConfig(cfg.RateLimitConfigWrite))

	deps := &handler.RouterDeps{
		Logger:        log,
		Observer:      collector,
		Recorder:      collector,
		RateLimiter:   rateLimiter,
		CookieName:    cfg.SessionCookieName,
		SessionCheck:  pageSessionCheck(cfg.SessionCheck),
		ConfigService: configService,
		Origin:        origin,
	}

	switch cfg.AuthMode {
	case config.AuthModeLark:
		tokens := auth.NewSessionTokens(cfg.SessionSecret, time.Duration(cfg.SessionMaxAge)*time.Second)
		provider := auth.NewLarkOAuthProvider(auth.LarkOAuthConfig{
			AppID:       cfg.LarkAppID,
			AppSecret:   cfg.LarkAppSecret,
			RedirectURL: cfg.LarkRedirectURL,
			AuthURL:     cfg.LarkAuthURL,
			TokenURL:    cfg.LarkTokenURL,
			UserInfoURL: cfg.LarkUserInfoURL,
		}, authClient)
		policy := auth.DomainPolicy{
			AllowedDomain:         cfg.AllowedEmailDomain,
			StrictEnterpriseEmail: cfg.StrictEnterpriseEmail,
		}
		deps.SessionFlow = auth.NewLarkSession(tokens, cookies)
		deps.AuthService = auth.NewService(provider, policy, tokens)
		deps.AuthConfig = handler.AuthHandlerConfig{Cookies: cookies, DebugPages: cfg.DebugPages}
	default:
		deps.SessionFlow = auth.NewWorkerSession(auth.NewWorkerClient(cfg.AuthWorkerURL, authClient), cfg.SessionCookieName)
	}

	return &gate{
		handler:     handler.NewRouter(deps),
		metrics:     metrics.SetupMetricsRoute(reg),
		rateLimiter: rateLimiter,
	}, nil
}

// pageSessionCheck は設定値をページリクエストの判定方式に変換する。
func pageSessionCheck(check config.SessionCheck) handler.SessionCheck {
	switch check {
	case config.SessionCheckPresence:
		return handler.SessionCheckPresence
	case config.SessionCheckSentinel:
		return handler.SessionCheckSentinel
	default:
		return handler.SessionCheckIdentity
	}
}

// newUpstreamClient はタイムアウトとメトリクス計測付きのHTTPクライアントを生成する。
func newUpstreamClient(collector *metrics.Collector, upstream string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: collector.InstrumentTransport(upstream, http.DefaultTransport.(*http.Transport).Clone()),
	}
}

func newObjectStore(cfg *config.Config, httpClient *http.Client, log *slog.Logger) *objectstore.Client {
	return objectstore.NewClient(httpClient, log, objectstore.Config{
		Endpoint:        cfg.R2Endpoint,
		Bucket:          cfg.R2Bucket,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Region:          cfg.R2Region,
		PublicURL:       cfg.R2PublicURL,
	})
}

// runServe はゲートのHTTPサーバーを起動する。
// METRICS_PORTが設定されている場合は /metrics を別ポートで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	g, err := buildGate(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to build gate: %w", err)
	}
	defer g.rateLimiter.Stop()

	servers := []*http.Server{{
		Addr:              ":" + cfg.ServerPort,
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.MetricsPort != "" {
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           g.metrics,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("server starting", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-stop:
		log.Info("shutting down gate...")
	case serveErr = <-errCh:
		log.Error("server listen error", slog.String("error", serveErr.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("gate stopped gracefully")
	return nil
}

// runPruneBackups はバックアップの世代管理ジョブを1回実行する。
func runPruneBackups(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	job := cleanup.NewBackupCleanupJob(newObjectStore(cfg, httpClient, log), log, repository.BackupPrefix)
	job.Retention = cfg.BackupRetention

	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("prune backups failed: %w", err)
	}
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
