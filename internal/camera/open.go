package camera

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mangoire/internal/sensor"
)

// ドライバの種類
const (
	DriverSimulator = "simulator"
	DriverV4L2      = "v4l2"
)

// Options はセンサードライバの生成パラメータ
type Options struct {
	Driver    string           // "simulator" または "v4l2"
	Device    string           // V4L2 デバイスパス。空なら検出する
	PixFormat sensor.PixFormat // シミュレータの出力フォーマット
	FrameSize sensor.FrameSize // 初期フレームサイズ
	FPS       int              // フレームレート
	Buffers   int              // シミュレータのフレームバッファ数
	XCLK      int              // 入力クロック (MHz)
	LEDPath   string           // sysfs LED ディレクトリ。空なら照明なし
}

// OpenDriver は設定に従ってセンサードライバを開く
// V4L2 でデバイスが未指定の場合は discovery で最初に見つかったものを使う
func OpenDriver(ctx context.Context, opts Options, discovery sensor.Discovery, logger *zap.Logger) (sensor.Driver, error) {
	switch opts.Driver {
	case DriverSimulator, "":
		sim, err := sensor.NewSimulator(sensor.SimulatorConfig{
			PixFormat: opts.PixFormat,
			FrameSize: opts.FrameSize,
			FPS:       opts.FPS,
			Buffers:   opts.Buffers,
			XCLK:      opts.XCLK,
		})
		if err != nil {
			return nil, fmt.Errorf("シミュレータの作成に失敗: %w", err)
		}
		logger.Info("シミュレータを開きました",
			zap.Stringer("pixformat", opts.PixFormat),
			zap.Int("framesize", int(opts.FrameSize)),
			zap.Int("fps", opts.FPS))
		return sim, nil

	case DriverV4L2:
		device := opts.Device
		if device == "" {
			devices, err := discovery.ScanDevices(ctx)
			if err != nil {
				return nil, fmt.Errorf("デバイスの検出に失敗: %w", err)
			}
			if len(devices) == 0 {
				return nil, fmt.Errorf("利用可能なカメラデバイスがありません")
			}
			device = devices[0]
			logger.Info("カメラデバイスを検出しました", zap.Strings("devices", devices), zap.String("selected", device))
		} else if !discovery.IsDeviceAvailable(ctx, device) {
			return nil, fmt.Errorf("デバイスが利用できません: %s", device)
		}

		drv, err := sensor.NewV4L2Driver(sensor.V4L2Config{
			Device:    device,
			FrameSize: opts.FrameSize,
			FPS:       opts.FPS,
		})
		if err != nil {
			return nil, fmt.Errorf("V4L2ドライバの作成に失敗: %w", err)
		}
		logger.Info("V4L2デバイスを開きました", zap.String("device", device))
		return drv, nil
	}

	return nil, fmt.Errorf("不明なドライバ: %q", opts.Driver)
}

// OpenLED は補助照明を開く
// LEDPath があれば sysfs LED、なければドライバ自身が LED を兼ねる場合はそれを使う
func OpenLED(opts Options, driver sensor.Driver) (LED, error) {
	if opts.LEDPath != "" {
		led, err := sensor.NewSysfsLED(opts.LEDPath)
		if err != nil {
			return nil, fmt.Errorf("LEDの初期化に失敗: %w", err)
		}
		return led, nil
	}
	if led, ok := driver.(LED); ok {
		return led, nil
	}
	return nil, nil
}
