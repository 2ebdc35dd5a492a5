package control

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"mangoire/internal/camera"
	"mangoire/internal/sensor"
)

// ErrUnknownParameter は制御表にないパラメータ名を表す
var ErrUnknownParameter = errors.New("不明なパラメータです")

// ledIntensity は照明強度のパラメータ名（照明がある場合のみ有効）
const ledIntensity = "led_intensity"

type setter func(drv sensor.Driver, v int) error

// setters はパラメータ名とドライバのセッターの対応表
var setters = map[string]setter{
	"framesize":      setFrameSize,
	"quality":        sensor.Driver.SetQuality,
	"contrast":       sensor.Driver.SetContrast,
	"brightness":     sensor.Driver.SetBrightness,
	"saturation":     sensor.Driver.SetSaturation,
	"sharpness":      sensor.Driver.SetSharpness,
	"gainceiling":    sensor.Driver.SetGainCeiling,
	"colorbar":       sensor.Driver.SetColorbar,
	"awb":            sensor.Driver.SetWhiteBalance,
	"agc":            sensor.Driver.SetGainCtrl,
	"aec":            sensor.Driver.SetExposureCtrl,
	"hmirror":        sensor.Driver.SetHMirror,
	"vflip":          sensor.Driver.SetVFlip,
	"awb_gain":       sensor.Driver.SetAWBGain,
	"agc_gain":       sensor.Driver.SetAGCGain,
	"aec_value":      sensor.Driver.SetAECValue,
	"aec2":           sensor.Driver.SetAEC2,
	"dcw":            sensor.Driver.SetDCW,
	"bpc":            sensor.Driver.SetBPC,
	"wpc":            sensor.Driver.SetWPC,
	"raw_gma":        sensor.Driver.SetRawGMA,
	"lenc":           sensor.Driver.SetLenC,
	"special_effect": sensor.Driver.SetSpecialEffect,
	"wb_mode":        sensor.Driver.SetWBMode,
	"ae_level":       sensor.Driver.SetAELevel,
}

// setFrameSize は出力フォーマットが JPEG のときだけ解像度を変える
// それ以外のフォーマットでは何もせず成功を返す
func setFrameSize(drv sensor.Driver, v int) error {
	if drv.PixFormat() != sensor.PixFormatJPEG {
		return nil
	}
	return drv.SetFrameSize(sensor.FrameSize(v))
}

// Dispatcher は (名前, 整数値) の制御コマンドをセンサーへ振り分ける
type Dispatcher struct {
	device *camera.Device
	flash  *camera.Flash
	logger *zap.Logger
}

// NewDispatcher は新しいDispatcherを作成する
func NewDispatcher(device *camera.Device, flash *camera.Flash, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		device: device,
		flash:  flash,
		logger: logger,
	}
}

// Apply はパラメータを1つ設定する
// 不明な名前ではドライバに一切触らず ErrUnknownParameter を返す
func (d *Dispatcher) Apply(name string, value int) error {
	if name == ledIntensity && d.flash.Enabled() {
		if err := d.flash.SetIntensity(value); err != nil {
			return fmt.Errorf("%s=%d: %w", name, value, err)
		}
		d.logger.Info("制御コマンドを適用しました", zap.String("var", name), zap.Int("val", value))
		return nil
	}

	set, ok := setters[name]
	if !ok {
		d.logger.Info("不明なコマンド", zap.String("var", name))
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}

	err := d.device.Do(func(drv sensor.Driver) error {
		return set(drv, value)
	})
	if err != nil {
		return fmt.Errorf("%s=%d: %w", name, value, err)
	}
	d.logger.Info("制御コマンドを適用しました", zap.String("var", name), zap.Int("val", value))
	return nil
}

// ApplyAll は複数のパラメータを名前順に設定する
// 不明な名前は飛ばし、適用できた名前の一覧と失敗をまとめて返す
func (d *Dispatcher) ApplyAll(values map[string]int) ([]string, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var applied []string
	var errs []error
	for _, name := range names {
		err := d.Apply(name, values[name])
		switch {
		case errors.Is(err, ErrUnknownParameter):
			continue
		case err != nil:
			errs = append(errs, err)
		default:
			applied = append(applied, name)
		}
	}
	return applied, errors.Join(errs...)
}

// Names は受け付けるパラメータ名を昇順で返す
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(setters)+1)
	for name := range setters {
		names = append(names, name)
	}
	if d.flash.Enabled() {
		names = append(names, ledIntensity)
	}
	sort.Strings(names)
	return names
}

// ReadRegister はレジスタ値を読み出す
func (d *Dispatcher) ReadRegister(reg, mask int) (int, error) {
	var value int
	err := d.device.Do(func(drv sensor.Driver) error {
		v, err := drv.GetReg(reg, mask)
		value = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("レジスタ 0x%x の読み出しに失敗: %w", reg, err)
	}
	d.logger.Info("レジスタを読み出しました", zap.Int("reg", reg), zap.Int("mask", mask), zap.Int("value", value))
	return value, nil
}

// WriteRegister はマスクしたビットをレジスタに書き込む
func (d *Dispatcher) WriteRegister(reg, mask, value int) error {
	d.logger.Info("レジスタを設定します", zap.Int("reg", reg), zap.Int("mask", mask), zap.Int("value", value))
	err := d.device.Do(func(drv sensor.Driver) error {
		return drv.SetReg(reg, mask, value)
	})
	if err != nil {
		return fmt.Errorf("レジスタ 0x%x の書き込みに失敗: %w", reg, err)
	}
	return nil
}

// SetClock は入力クロックを MHz 単位で設定する
func (d *Dispatcher) SetClock(mhz int) error {
	d.logger.Info("XCLKを設定します", zap.Int("mhz", mhz))
	err := d.device.Do(func(drv sensor.Driver) error {
		return drv.SetXCLK(mhz)
	})
	if err != nil {
		return fmt.Errorf("XCLKの設定に失敗: %w", err)
	}
	return nil
}

// SetPLL はクロック生成回路を設定する
func (d *Dispatcher) SetPLL(pll sensor.PLL) error {
	d.logger.Info("PLLを設定します", zap.Any("pll", pll))
	err := d.device.Do(func(drv sensor.Driver) error {
		return drv.SetPLL(pll)
	})
	if err != nil {
		return fmt.Errorf("PLLの設定に失敗: %w", err)
	}
	return nil
}

// SetWindow は切り出し・スケーリングを設定する
func (d *Dispatcher) SetWindow(w sensor.Window) error {
	d.logger.Info("ウィンドウを設定します", zap.Any("window", w))
	err := d.device.Do(func(drv sensor.Driver) error {
		return drv.SetWindow(w)
	})
	if err != nil {
		return fmt.Errorf("ウィンドウの設定に失敗: %w", err)
	}
	return nil
}
