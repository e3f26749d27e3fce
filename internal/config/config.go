// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 変換元設定
	SourceAPIBaseURL string // エピソード解決APIのベースURL
	FFmpegPath       string // ffmpeg実行ファイルのパス

	// 作業ディレクトリ設定
	TmpDir string // 変換成果物を置くスクラッチディレクトリ

	// キャッシュ設定
	MaxElements int   // キャッシュに保持するジョブ数の上限
	MaxSizeGiB  int64 // 成果物の合計サイズ上限（GiB）
	ExpireHours int   // 最終アクセスからの有効期限（時間）
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
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		// 変換元設定
		SourceAPIBaseURL: getEnv("SOURCE_API_BASE_URL", "https://api.gazes.fr/anime/animes"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),

		// 作業ディレクトリ設定
		TmpDir: getEnv("TMP_DIR", "./tmp"),

		// キャッシュ設定
		MaxElements: getEnvAsInt("MAX_ELEMENTS", 40),
		MaxSizeGiB:  getEnvAsInt64("MAX_SIZE", 15),
		ExpireHours: getEnvAsInt("EXPIRE_HOURS", 12),
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
	if c.MaxElements <= 0 {
		return fmt.Errorf("MAX_ELEMENTS must be positive (got %d)", c.MaxElements)
	}
	if c.MaxSizeGiB <= 0 {
		return fmt.Errorf("MAX_SIZE must be positive (got %d)", c.MaxSizeGiB)
	}
	if c.ExpireHours <= 0 {
		return fmt.Errorf("EXPIRE_HOURS must be positive (got %d)", c.ExpireHours)
	}

	// ローカル開発では接続先の設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.SourceAPIBaseURL == "" {
			return fmt.Errorf("SOURCE_API_BASE_URL is required in release mode")
		}
		if c.FFmpegPath == "" {
			return fmt.Errorf("FFMPEG_PATH is required in release mode")
		}
	}

	return nil
}

// MaxSizeBytes は成果物の合計サイズ上限をバイト単位で返します。
func (c *Config) MaxSizeBytes() int64 {
	return c.MaxSizeGiB * 1024 * 1024 * 1024
}

// ExpireWindow は最終アクセスからの有効期限を返します。
func (c *Config) ExpireWindow() time.Duration {
	return time.Duration(c.ExpireHours) * time.Hour
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
