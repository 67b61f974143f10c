// Package main はpasscamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"passcam/internal/app"
	"passcam/internal/config"
	"passcam/internal/logger"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		eye        = flag.String("eye", "", "使用するカメラ (left/right)")
		resolution = flag.String("resolution", "", "要求解像度のプリセット (144p/240p/360p/480p/720p/1080p/auto)")
		backend    = flag.String("backend", "", "キャプチャバックエンド (v4l2/ffmpeg)")
		logLevel   = flag.String("log-level", "", "ログレベル (debug/info/warn/error)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("passcam - パススルーカメラ")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Default.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *eye != "" {
		cfg.Camera.Eye = *eye
	}
	if *resolution != "" {
		cfg.Camera.Resolution = *resolution
	}
	if *backend != "" {
		cfg.Camera.Backend = *backend
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		logger.Default.Error("設定が不正です", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	a, err := app.New(cfg, logger.Default)
	if err != nil {
		logger.Default.Error("初期化に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	logger.Default.Info("passcam サーバーを起動します", "address", cfg.ServerAddress(), "eye", cfg.Camera.Eye, "backend", cfg.Camera.Backend)
	if err := a.Run(context.Background()); err != nil {
		logger.Default.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
