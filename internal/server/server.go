package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangoire/internal/config"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	app        *App
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, app *App, logger *zap.Logger) *Server {
	s := &Server{
		config: cfg,
		app:    app,
		logger: logger,
	}
	s.engine = s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), cors())

	h := &Handler{app: s.app, logger: s.logger}

	// ヘルスチェックエンドポイント
	r.GET("/health", h.Health)

	// 映像
	r.GET("/stream", h.Stream)
	r.GET("/capture", h.Capture)
	r.GET("/bmp", h.BMP)

	// センサー制御
	r.GET("/control", h.Control)
	r.GET("/status", h.Status)
	r.GET("/xclk", h.XCLK)
	r.GET("/reg", h.SetRegister)
	r.GET("/greg", h.GetRegister)
	r.GET("/pll", h.PLL)
	r.GET("/resolution", h.Resolution)

	// 保存設定
	r.GET("/api/settings", h.GetSettings)
	r.POST("/api/settings", h.PostSettings)

	// テレメトリ
	r.GET("/ws", h.WebSocket)

	return r
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	s.app.Run(ctx)

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.Stringer("signal", sig))
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// ストリームは切断されるまで返らないので、待ちきれなければ強制的に閉じる
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("グレースフルシャットダウンがタイムアウトしました", zap.Error(err))
		_ = s.httpServer.Close()
	}

	if err := s.app.Close(); err != nil {
		return fmt.Errorf("カメラの終了に失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
