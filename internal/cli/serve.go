package cli

import (
	"context"
	"fmt"

	"camarbiter/internal/camera"
	"camarbiter/internal/config"
	"camarbiter/internal/instance"
	"camarbiter/internal/observability"
	"camarbiter/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "アービタと運用APIサーバーを起動する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg)
		},
	}
}

// Serve はアービタを組み立てて起動し、シグナルかコンテキストの終了まで運用APIを提供する
func Serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.InitLogger("camarbiter", cfg.Log.Level, cfg.Log.Console)

	// ホストごとに1プロセス
	lock, err := instance.Acquire(cfg.Arbiter.LockFile)
	if err != nil {
		return fmt.Errorf("起動に失敗: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("ロックの解放に失敗")
		}
	}()

	arb := NewArbiter(cfg)
	if err := arb.Start(ctx); err != nil {
		return fmt.Errorf("アービタの起動に失敗: %w", err)
	}
	defer func() {
		_ = arb.Stop(context.Background())
	}()

	logger.Info().
		Str("device_dir", cfg.Arbiter.DeviceDir).
		Str("release_script", cfg.Arbiter.ReleaseScript).
		Str("lock_file", lock.Path()).
		Msg("カメラ資源アービタを起動しました")

	srv := server.New(cfg, arb, logger)
	return srv.Start(ctx)
}

// NewArbiter は設定からLinux環境向けのアービタを組み立てる
func NewArbiter(cfg *config.Config) *camera.Arbiter {
	sys, prober := newProber(cfg)
	reaper := camera.NewDeviceReaper(sys, prober, cfg.Arbiter.Timeouts.KillGrace, log.Logger)

	opts := []camera.Option{
		camera.WithLogger(log.Logger),
		camera.WithMaxIndex(camera.CameraIndex(cfg.Arbiter.MaxIndex)),
		camera.WithMonitorInterval(cfg.Arbiter.MonitorInterval),
	}
	if cfg.Arbiter.WatchHotplug {
		opts = append(opts, camera.WithHotplugDir(cfg.Arbiter.DeviceDir))
	}
	return camera.NewArbiter(prober, reaper, opts...)
}

func newProber(cfg *config.Config) (*camera.LinuxSystem, *camera.DeviceProber) {
	sys := camera.NewLinuxSystem(cfg.Arbiter.DeviceDir, cfg.Arbiter.ReleaseScript, camera.Timeouts{
		Probe:  cfg.Arbiter.Timeouts.Probe,
		Busy:   cfg.Arbiter.Timeouts.Busy,
		Script: cfg.Arbiter.Timeouts.Script,
	})
	return sys, camera.NewDeviceProber(sys, log.Logger)
}
