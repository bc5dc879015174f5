// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証設定
	APIKeyHeader   string // APIキーを受け取るHTTPヘッダー名
	AllowedAPIKeys string // 許可するAPIキー（カンマ区切り、空なら認証無効）
	APIKeyRequired bool   // APIキー検証を強制するかどうか

	// アップロード制限
	MaxUploadSize int64 // アップロードアーカイブの最大サイズ（バイト）

	// レート制限
	RateLimitWindowSeconds int // レート制限ウィンドウ（秒）
	MaxRequestsPerWindow   int // ウィンドウあたりの最大受付数

	// コンパイル設定
	MaxCompilationSeconds int    // 外部コマンド1回あたりの上限時間（秒）
	PdflatexPath          string // pdflatex実行ファイルのパス
	BibtexPath            string // bibtex実行ファイルのパス

	// ジョブ保持設定
	JobExpirySeconds       int    // ジョブの有効期限（秒）
	CleanupIntervalSeconds int    // 期限切れジョブ掃除の実行間隔（秒）
	JobsDir                string // 成果物と作業ディレクトリのルート
	DBPath                 string // ジョブ記録用SQLiteファイルのパス

	// ジョブ/キュー設定
	QueueRedisURL    string // Asynq用Redis接続URL
	QueueConcurrency int    // ワーカーの同時実行数
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 認証設定
		APIKeyHeader:   getEnv("API_KEY_HEADER", "X-API-Key"),
		AllowedAPIKeys: getEnv("ALLOWED_API_KEYS", ""),
		APIKeyRequired: getEnvAsBool("API_KEY_REQUIRED", true),

		// アップロード制限
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 52428800), // 50MB

		// レート制限
		RateLimitWindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW", 60),
		MaxRequestsPerWindow:   getEnvAsInt("MAX_REQUESTS_PER_WINDOW", 10),

		// コンパイル設定
		MaxCompilationSeconds: getEnvAsInt("MAX_COMPILATION_TIME", 240),
		PdflatexPath:          getEnv("PDFLATEX_PATH", "pdflatex"),
		BibtexPath:            getEnv("BIBTEX_PATH", "bibtex"),

		// ジョブ保持設定
		JobExpirySeconds:       getEnvAsInt("JOB_EXPIRY", 3600),
		CleanupIntervalSeconds: getEnvAsInt("CLEANUP_INTERVAL", 900),
		JobsDir:                getEnv("JOBS_DIR", "./data/jobs"),
		DBPath:                 getEnv("DB_PATH", "./data/db/jobs.db"),

		// ジョブ/キュー設定
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueConcurrency: getEnvAsInt("QUEUE_CONCURRENCY", 4),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.APIKeyRequired && c.AllowedAPIKeys == "" {
			return fmt.Errorf("ALLOWED_API_KEYS is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.PdflatexPath == "" {
			return fmt.Errorf("PDFLATEX_PATH is required in release mode")
		}
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxRequestsPerWindow <= 0 || c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	if c.QueueConcurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
