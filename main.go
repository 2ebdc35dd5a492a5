package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"mangoire/internal/config"
	"mangoire/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// サーバーを起動
	if err := server.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
