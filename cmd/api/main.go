// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/video-forge/internal/config"
	"github.com/yourusername/video-forge/internal/jobs"
	"github.com/yourusername/video-forge/internal/media"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	// スクラッチディレクトリの初期化（プロセス再起動をまたいで状態は持たない）
	if err := resetTmpDir(cfg.TmpDir); err != nil {
		log.Fatalf("Failed to reset tmp dir: %v", err)
	}

	// ジョブキャッシュとリクレーマの起動
	cache := jobs.NewCache(cfg.MaxElements, cfg.MaxSizeBytes(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go cache.Reclaim(ctx)

	client := &http.Client{Timeout: 30 * time.Second}
	service := media.NewService(cfg, cache,
		media.NewAPIResolver(cfg.SourceAPIBaseURL, client),
		media.NewPlaylistEnumerator(client),
		media.NewFFmpegTranscoder(cfg.FFmpegPath, client),
		logger,
	)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	// Range応答のヘッダーをフロントエンドが読み取れるように公開
	corsConfig.ExposeHeaders = []string{
		"Content-Type",
		"Accept-Ranges",
		"Content-Length",
		"Content-Range",
		"Content-Encoding",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, service)

	// サーバーの起動
	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// シグナル受信でリクレーマと監視タスクを確実に止めてから終了する
	<-ctx.Done()
	stop()
	logger.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Server shutdown error: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "video-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API のルーティングを行います。
func setupRoutes(router *gin.Engine, service *media.Service) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	router.GET("/download/:contentId/:episode/:lang", media.DownloadHandler(service))

	result := router.Group("/result")
	{
		result.GET("/:id", media.ResultPageHandler(service))
		result.GET("/video/:id", media.VideoHandler(service))
	}
}

// resetTmpDir はスクラッチディレクトリを作成し、前回起動時の残骸を
// すべて削除します。
func resetTmpDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
