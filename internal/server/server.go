package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camarbiter/internal/camera"
	"camarbiter/internal/config"
	"camarbiter/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Arbiter はサーバーが利用するアービタの操作
type Arbiter interface {
	Request(ctx context.Context, req camera.Request) bool
	Release(ctx context.Context, id camera.RequesterID) bool
	ResetAll(ctx context.Context) bool
	State(ctx context.Context, index camera.CameraIndex) camera.State
	FirstState(ctx context.Context) camera.State
	Grants() []camera.Grant
	Pending() []camera.RequesterID
	CurrentUser() camera.RequesterID
	LastError() string
	Subscribe(buffer int) (<-chan camera.Event, func())
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	handler    *ArbiterHandler
	logger     zerolog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, arbiter Arbiter, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	observability.RegisterMetrics()

	engine := gin.New()
	engine.Use(gin.Recovery(), observability.RequestLogger(logger), observability.RequestMetricsMiddleware())

	s := &Server{
		config: cfg,
		engine: engine,
		handler: &ArbiterHandler{
			config:  cfg,
			arbiter: arbiter,
			logger:  logger,
		},
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ヘルスチェックとメトリクス
	s.engine.GET("/health", h.HealthCheck)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/cameras/state", h.GetFirstState)
	api.GET("/cameras/:index/state", h.GetCameraState)
	api.GET("/owners", h.GetOwners)
	api.DELETE("/owners/:requester", h.ReleaseOwner)
	api.GET("/pending", h.GetPending)
	api.POST("/requests", h.PostRequest)
	api.POST("/reset", h.PostReset)
	api.GET("/events", h.StreamEvents)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動し、コンテキストの終了かシグナルでシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", s.config.ServerAddress()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
