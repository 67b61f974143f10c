package main

import (
	"context"
	"os"

	"passcam/internal/app"
	"passcam/internal/config"
	"passcam/internal/logger"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("PASSCAM_CONFIG"))
	if err != nil {
		logger.Default.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	// アプリケーションを組み立てる
	a, err := app.New(cfg, logger.Default)
	if err != nil {
		logger.Default.Error("初期化に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	if err := a.Run(context.Background()); err != nil {
		logger.Default.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
