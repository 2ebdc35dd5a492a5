package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangoire/internal/config"
	"mangoire/internal/sensor"
)

// NewLogger はログ設定からロガーを作成する
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("無効なログレベル: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// Run はセンサーを開き、保存済みの設定を適用してからサーバーを起動する
// ctx が終わるかシグナルを受けるまで返らない
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := NewApp(ctx, cfg, sensor.NewLinuxDiscovery(), logger)
	if err != nil {
		return fmt.Errorf("カメラの初期化に失敗: %w", err)
	}

	if err := app.ApplyStoredSettings(); err != nil {
		// 起動は続ける
		logger.Warn("保存済みの設定を適用できませんでした", zap.Error(err))
	}

	return New(cfg, app, logger).Start(ctx)
}
