// Package app は設定からコンポーネントを組み立てて起動する
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"passcam/internal/camera"
	"passcam/internal/config"
	"passcam/internal/display"
	"passcam/internal/logger"
	"passcam/internal/metrics"
	"passcam/internal/server"
	"passcam/internal/ui"
)

// App は組み立て済みのアプリケーション
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Manager  *camera.Manager
	Selector *ui.Selector
	Sink     *display.Sink
	Loop     *camera.FrameLoop
	Server   *server.Server

	watcher *camera.DeviceWatcher
}

// New は設定からアプリケーションを組み立てる。
// キャプチャマネージャーは DefaultRegistry に登録されるため、使い終わったら Close を呼ぶこと
func New(cfg *config.Config, l *slog.Logger) (*App, error) {
	l = logger.OrDefault(l)

	discovery := &camera.LinuxDiscovery{DevDir: cfg.Camera.DevDir, CommandTimeout: 5 * time.Second}
	devices := camera.NewCachedEnumerator(discovery, cfg.Camera.CacheTTL)
	eyeMap := camera.NewConfigEyeMapper(discovery, devices, cfg.EyeIndices(), cfg.StaticSizes())

	opener, err := camera.NewBackendFactory().Create(camera.BackendType(cfg.Camera.Backend), camera.BackendConfig{
		Discovery: discovery,
		FPS:       cfg.Camera.FPS,
		Logger:    l,
	})
	if err != nil {
		return nil, fmt.Errorf("キャプチャバックエンドの作成に失敗: %w", err)
	}

	platform := camera.Platform{
		Capability:  camera.NewLinuxCapability(cfg.Camera.Passthrough),
		Permissions: &camera.DevicePermissions{DevDir: cfg.Camera.DevDir},
		Devices:     devices,
		EyeMap:      eyeMap,
		Opener:      opener,
	}

	manager, err := camera.NewManager(platform, camera.Options{
		Eye:           cfg.Eye(),
		RequestedSize: cfg.RequestedResolution(),
		FrameDelay:    cfg.Acquisition.FrameDelay,
		Retry:         cfg.RetryPolicy(),
		Logger:        l,
	})
	if err != nil {
		return nil, fmt.Errorf("キャプチャマネージャーの作成に失敗: %w", err)
	}

	presets, err := cfg.DisplayPresets()
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	sink := display.NewSink(manager, manager, display.Options{Presets: presets, Logger: l})
	sink.SetRenderTarget(display.NewRenderTarget(presets[0]))
	if cfg.Display.Material {
		sink.SetMaterialTarget(display.NewMaterialTarget())
	}

	controls := make(map[string]ui.Control, len(cfg.UI.Controls))
	for _, label := range cfg.UI.Controls {
		controls[label] = ui.NewButton()
	}
	selector := ui.NewSelector(manager, cfg.RequestedResolution(), ui.Options{
		ShowPanel: cfg.UI.ShowPanel,
		Controls:  controls,
		Logger:    l,
	})

	a := &App{
		cfg:      cfg,
		logger:   l,
		Manager:  manager,
		Selector: selector,
		Sink:     sink,
		Loop:     camera.NewFrameLoop(cfg.Camera.FPS, manager, sink),
		Server: server.New(cfg, server.Deps{
			Manager:  manager,
			Selector: selector,
			Sink:     sink,
			Metrics:  metrics.NewRegistry(),
			Logger:   l,
		}),
	}

	if cfg.Camera.WatchDevices {
		w, err := camera.NewDeviceWatcher(cfg.Camera.DevDir, l, devices, eyeMap)
		if err != nil {
			// 監視なしで続行する
			l.Warn("デバイス監視を開始できません", "error", err)
		} else {
			a.watcher = w
		}
	}

	return a, nil
}

// Run は取得とフレームループを開始し、サーバーが停止するまでブロックする
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("終了処理でエラーが発生しました", "error", err)
		}
	}()

	if err := a.Selector.Start(); err != nil {
		return fmt.Errorf("解像度UIの初期化に失敗: %w", err)
	}
	if a.cfg.Display.InitialPreset >= 0 {
		a.Sink.SetDisplayResolution(a.cfg.Display.InitialPreset)
	}

	a.Manager.StartAcquisition(ctx)
	a.Loop.Start(ctx)

	return a.Server.Start(ctx)
}

// Close はフレームループとデバイス監視を止め、キャプチャマネージャーを解放する
func (a *App) Close() error {
	a.Loop.Stop()

	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	errs = append(errs, a.Manager.Close())
	return errors.Join(errs...)
}
