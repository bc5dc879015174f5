// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/auth"
	"github.com/yourusername/tex-forge/internal/config"
	"github.com/yourusername/tex-forge/internal/ratelimit"
	"github.com/yourusername/tex-forge/internal/tex"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		cfg.APIKeyHeader, // API キー認証用ヘッダー
	}
	// クライアントがレスポンスヘッダーからジョブ ID を読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// ジョブパイプラインの初期化
	deps, err := setupJobs(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize job pipeline: %v", err)
	}

	// ルーティングの設定
	setupRoutes(router, cfg, deps)

	// ワーカーの起動
	deps.manager.StartWorkers()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if deps.reaper != nil {
		go deps.reaper.Run(ctx)
	} else {
		logger.Infow("job cleanup disabled", "job_expiry_seconds", cfg.JobExpirySeconds)
	}

	// サーバーの起動
	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		logger.Infof("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutdown signal received")

	// 新規受付を止めてから実行中のジョブを片付ける
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http server shutdown failed", "error", err)
	}
	if err := deps.manager.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("job manager shutdown failed", "error", err)
	}
	deps.close()
	logger.Infow("server stopped")
}

// setupRoutes は API グループと認証・レート制限の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps *serviceDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", healthHandler(deps))

	authManager := auth.NewManager(cfg)
	limiter := ratelimit.NewLimiter(
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
		cfg.MaxRequestsPerWindow,
	)

	api := router.Group("/tex2pdf")
	api.Use(authManager.RequireAPIKey())
	{
		// 投入だけレート制限の対象にする
		api.POST("",
			limiter.Middleware(authManager.Identity),
			tex.SubmitHandler(deps.manager, tex.SubmitOptions{
				MaxUploadSize: cfg.MaxUploadSize,
				Identity:      authManager.Identity,
			}),
		)
		api.GET("/status/:job_id", tex.StatusHandler(deps.manager))
		api.GET("/download/:job_id", tex.DownloadHandler(deps.manager))
	}
}
