package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mangoire/internal/camera"
	"mangoire/internal/config"
	"mangoire/internal/control"
	"mangoire/internal/sensor"
	"mangoire/internal/settings"
	"mangoire/internal/stream"
	"mangoire/internal/telemetry"
)

// App はHTTPハンドラが使うコンポーネント一式
type App struct {
	Device      *camera.Device
	Flash       *camera.Flash
	Dispatcher  *control.Dispatcher
	Streamer    *stream.Streamer
	Snapshotter *stream.Snapshotter
	Settings    *settings.Store
	Hub         *telemetry.Hub       // nil なら /ws は無効
	Publisher   *telemetry.Publisher // nil なら MQTT 配信なし

	logger *zap.Logger
}

// NewApp は設定からセンサーを開き、コンポーネントを組み立てる
func NewApp(ctx context.Context, cfg *config.Config, discovery sensor.Discovery, logger *zap.Logger) (*App, error) {
	format, err := cfg.PixFormat()
	if err != nil {
		return nil, err
	}

	opts := camera.Options{
		Driver:    cfg.Camera.Driver,
		Device:    cfg.Camera.Device,
		PixFormat: format,
		FrameSize: sensor.FrameSize(cfg.Camera.FrameSize),
		FPS:       cfg.Camera.FPS,
		Buffers:   cfg.Camera.Buffers,
		XCLK:      cfg.Camera.XCLK,
		LEDPath:   cfg.Flash.LEDPath,
	}

	drv, err := camera.OpenDriver(ctx, opts, discovery, logger)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, drv, logger)
}

// newApp は開いたドライバからコンポーネントを組み立てる
func newApp(cfg *config.Config, drv sensor.Driver, logger *zap.Logger) (*App, error) {
	var led camera.LED
	if cfg.Flash.Enabled {
		l, err := camera.OpenLED(camera.Options{LEDPath: cfg.Flash.LEDPath}, drv)
		if err != nil {
			_ = drv.Close()
			return nil, err
		}
		led = l
	}

	device := camera.NewDevice(drv, logger)
	flash := camera.NewFlash(led, cfg.Flash.MaxDuty)
	if flash.Enabled() {
		if err := flash.SetIntensity(cfg.Flash.Intensity); err != nil {
			_ = device.Close()
			return nil, fmt.Errorf("照明強度の設定に失敗: %w", err)
		}
	}

	app := &App{
		Device:     device,
		Flash:      flash,
		Dispatcher: control.NewDispatcher(device, flash, logger),
		Settings:   settings.NewStore(cfg.Settings.Path, cfg.Settings.MaxBodyBytes),
		logger:     logger,
	}

	sinks := telemetry.Sinks{telemetry.NewLogSink(logger)}
	if cfg.Telemetry.WebSocket {
		app.Hub = telemetry.NewHub(logger)
		sinks = append(sinks, app.Hub)
	}
	if cfg.Telemetry.MQTT.Broker != "" {
		app.Publisher = telemetry.NewPublisher(telemetry.PublisherConfig{
			Broker:   cfg.Telemetry.MQTT.Broker,
			ClientID: cfg.Telemetry.MQTT.ClientID,
			Topic:    cfg.Telemetry.MQTT.Topic,
			QoS:      cfg.Telemetry.MQTT.QoS,
			Interval: cfg.Telemetry.MQTT.Interval,
		}, logger)
		sinks = append(sinks, app.Publisher)
	}

	encoder := camera.NewEncoder(nil)
	app.Streamer = stream.NewStreamer(device, encoder, flash, sinks, stream.Options{
		Quality:        cfg.Stream.Quality,
		FramerateHint:  cfg.Stream.FramerateHint,
		AverageSamples: cfg.Stream.AverageSamples,
	}, logger)
	app.Snapshotter = stream.NewSnapshotter(device, encoder, flash, cfg.Camera.Quality, cfg.Flash.Settle, logger)

	return app, nil
}

// ApplyStoredSettings は保存済みの設定をセンサーに適用する
// 一部の適用に失敗しても残りは適用し、失敗はまとめて返す
func (a *App) ApplyStoredSettings() error {
	values, err := a.Settings.Load()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	applied, err := a.Dispatcher.ApplyAll(values)
	a.logger.Info("保存済みの設定を適用しました", zap.Strings("applied", applied))
	return err
}

// Run はテレメトリ配信のゴルーチンを ctx が終わるまで動かす
func (a *App) Run(ctx context.Context) {
	if a.Hub != nil {
		go a.Hub.Run(ctx)
	}
	if a.Publisher != nil {
		go func() {
			if err := a.Publisher.Connect(ctx); err != nil {
				// 接続できなくても配信ループは回し、失敗数だけ数える
				a.logger.Warn("MQTTブローカーに接続できません", zap.Error(err))
			}
			a.Publisher.Run(ctx)
		}()
	}
}

// Close はセンサーとブローカー接続を閉じる
func (a *App) Close() error {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if err := a.Flash.Set(false); err != nil {
		a.logger.Warn("照明の消灯に失敗", zap.Error(err))
	}
	return a.Device.Close()
}
