// Package main はMangoireサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"mangoire/internal/config"
	"mangoire/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configFile = flag.String("config", "", "YAML設定ファイル (デフォルト: $CONFIG_FILE)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Mangoire")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// サーバーを起動
	logger.Info("Mangoire サーバーを起動します", zap.String("addr", cfg.ServerAddress()))
	if err := server.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
