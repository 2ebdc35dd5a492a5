package control

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"mangoire/internal/camera"
	"mangoire/internal/sensor"
)

type nopLED struct{}

func (nopLED) SetDuty(int) error { return nil }

func newTestDispatcher(t *testing.T, format sensor.PixFormat, flash *camera.Flash) (*Dispatcher, *sensor.MockDriver) {
	t.Helper()
	drv := sensor.NewMockDriver(format)
	dev := camera.NewDevice(drv, zap.NewNop())
	return NewDispatcher(dev, flash, zap.NewNop()), drv
}

func TestDispatcher_ApplyQualityThenSnapshot(t *testing.T) {
	d, _ := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	if err := d.Apply("quality", 10); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if st := d.Snapshot(); st.Quality != 10 {
		t.Errorf("Expected quality 10, got %d", st.Quality)
	}
}

func TestDispatcher_ApplyEveryParameter(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	tests := []struct {
		name  string
		value int
		get   func(sensor.Status) int
	}{
		{"framesize", int(sensor.FrameSizeVGA), func(s sensor.Status) int { return int(s.FrameSize) }},
		{"quality", 20, func(s sensor.Status) int { return s.Quality }},
		{"contrast", -1, func(s sensor.Status) int { return s.Contrast }},
		{"brightness", 1, func(s sensor.Status) int { return s.Brightness }},
		{"saturation", 2, func(s sensor.Status) int { return s.Saturation }},
		{"sharpness", -2, func(s sensor.Status) int { return s.Sharpness }},
		{"gainceiling", 3, func(s sensor.Status) int { return s.GainCeiling }},
		{"colorbar", 1, func(s sensor.Status) int { return s.Colorbar }},
		{"awb", 0, func(s sensor.Status) int { return s.AWB }},
		{"agc", 0, func(s sensor.Status) int { return s.AGC }},
		{"aec", 0, func(s sensor.Status) int { return s.AEC }},
		{"hmirror", 1, func(s sensor.Status) int { return s.HMirror }},
		{"vflip", 1, func(s sensor.Status) int { return s.VFlip }},
		{"awb_gain", 0, func(s sensor.Status) int { return s.AWBGain }},
		{"agc_gain", 12, func(s sensor.Status) int { return s.AGCGain }},
		{"aec_value", 600, func(s sensor.Status) int { return s.AECValue }},
		{"aec2", 1, func(s sensor.Status) int { return s.AEC2 }},
		{"dcw", 0, func(s sensor.Status) int { return s.DCW }},
		{"bpc", 1, func(s sensor.Status) int { return s.BPC }},
		{"wpc", 0, func(s sensor.Status) int { return s.WPC }},
		{"raw_gma", 0, func(s sensor.Status) int { return s.RawGMA }},
		{"lenc", 0, func(s sensor.Status) int { return s.LenC }},
		{"special_effect", 2, func(s sensor.Status) int { return s.SpecialEffect }},
		{"wb_mode", 3, func(s sensor.Status) int { return s.WBMode }},
		{"ae_level", -1, func(s sensor.Status) int { return s.AELevel }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Apply(tt.name, tt.value); err != nil {
				t.Fatalf("Apply(%s, %d) failed: %v", tt.name, tt.value, err)
			}
			if got := tt.get(drv.Status()); got != tt.value {
				t.Errorf("Expected %s=%d, got %d", tt.name, tt.value, got)
			}
		})
	}

	if len(d.Names()) != len(tests) {
		t.Errorf("Expected %d names, got %d", len(tests), len(d.Names()))
	}
}

func TestDispatcher_UnknownParameter(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatJPEG, nil)
	before := drv.Status()

	err := d.Apply("bogus", 1)
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("Expected ErrUnknownParameter, got %v", err)
	}
	if drv.Status() != before {
		t.Error("Expected status unchanged after unknown parameter")
	}

	// 照明がなければ led_intensity も不明扱い
	if err := d.Apply("led_intensity", 10); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Expected ErrUnknownParameter for led_intensity without flash, got %v", err)
	}
}

func TestDispatcher_SetterFailure(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	err := d.Apply("brightness", 9)
	if !errors.Is(err, sensor.ErrInvalidValue) {
		t.Fatalf("Expected ErrInvalidValue, got %v", err)
	}
	if drv.Status().Brightness != 0 {
		t.Error("Expected brightness unchanged")
	}
}

func TestDispatcher_FrameSizeRequiresJPEG(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatRGB565, nil)
	before := drv.Status().FrameSize

	// JPEG 以外では何もせず成功する
	if err := d.Apply("framesize", int(sensor.FrameSizeSVGA)); err != nil {
		t.Fatalf("Expected silent skip, got %v", err)
	}
	if drv.Status().FrameSize != before {
		t.Errorf("Expected framesize unchanged, got %d", drv.Status().FrameSize)
	}
}

func TestDispatcher_LEDIntensity(t *testing.T) {
	flash := camera.NewFlash(nopLED{}, 255)
	d, _ := newTestDispatcher(t, sensor.PixFormatJPEG, flash)

	if err := d.Apply("led_intensity", 128); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if st := d.Snapshot(); st.LEDIntensity != 128 {
		t.Errorf("Expected led_intensity 128, got %d", st.LEDIntensity)
	}
	if err := d.Apply("led_intensity", 300); !errors.Is(err, sensor.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}

	found := false
	for _, name := range d.Names() {
		if name == "led_intensity" {
			found = true
		}
	}
	if !found {
		t.Error("Expected led_intensity in Names")
	}
}

func TestDispatcher_ApplyAll(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	applied, err := d.ApplyAll(map[string]int{
		"quality":    8,
		"brightness": 5, // 範囲外
		"ssid":       1, // 不明な名前は無視
		"aec":        0,
	})
	if err == nil || !errors.Is(err, sensor.ErrInvalidValue) {
		t.Errorf("Expected joined ErrInvalidValue, got %v", err)
	}
	if strings.Join(applied, ",") != "aec,quality" {
		t.Errorf("Expected [aec quality], got %v", applied)
	}
	if drv.Status().Quality != 8 || drv.Status().AEC != 0 {
		t.Errorf("Unexpected status: %+v", drv.Status())
	}
}

func TestDispatcher_SnapshotFieldOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	st := d.Snapshot()
	if st.LEDIntensity != -1 {
		t.Errorf("Expected led_intensity -1 without flash, got %d", st.LEDIntensity)
	}
	if st.PixFormat != int(sensor.PixFormatJPEG) {
		t.Errorf("Expected pixformat %d, got %d", sensor.PixFormatJPEG, st.PixFormat)
	}
	if st.XCLK != 20 {
		t.Errorf("Expected xclk 20, got %d", st.XCLK)
	}

	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	order := []string{
		"xclk", "pixformat", "framesize", "quality", "brightness", "contrast", "saturation",
		"sharpness", "special_effect", "wb_mode", "awb", "awb_gain", "aec", "aec2", "ae_level",
		"aec_value", "agc", "agc_gain", "gainceiling", "bpc", "wpc", "raw_gma", "lenc",
		"hmirror", "vflip", "dcw", "colorbar", "led_intensity",
	}
	last := -1
	for _, key := range order {
		idx := strings.Index(string(raw), `"`+key+`":`)
		if idx < 0 {
			t.Fatalf("Missing key %q in %s", key, raw)
		}
		if idx <= last {
			t.Errorf("Key %q out of order", key)
		}
		last = idx
	}
}

func TestDispatcher_RawAccess(t *testing.T) {
	d, drv := newTestDispatcher(t, sensor.PixFormatJPEG, nil)

	if err := d.WriteRegister(0x3008, 0xff, 0x42); err != nil {
		t.Fatalf("WriteRegister failed: %v", err)
	}
	v, err := d.ReadRegister(0x3008, 0xff)
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if v != 0x42 {
		t.Errorf("Expected 0x42, got 0x%x", v)
	}

	if err := d.SetClock(24); err != nil {
		t.Fatalf("SetClock failed: %v", err)
	}
	if d.Snapshot().XCLK != 24 {
		t.Errorf("Expected xclk 24, got %d", d.Snapshot().XCLK)
	}
	if err := d.SetClock(0); !errors.Is(err, sensor.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for xclk 0, got %v", err)
	}

	pll := sensor.PLL{Mul: 25, Sys: 1, Root: 1, Pre: 3, SelD5: 1, PCLKEn: 1, PCLK: 8}
	if err := d.SetPLL(pll); err != nil {
		t.Fatalf("SetPLL failed: %v", err)
	}
	if drv.PLL() != pll {
		t.Errorf("Expected PLL %+v, got %+v", pll, drv.PLL())
	}

	w := sensor.Window{EndX: 1600, EndY: 1200, OutputX: 320, OutputY: 240, Scale: true}
	if err := d.SetWindow(w); err != nil {
		t.Fatalf("SetWindow failed: %v", err)
	}
	if drv.Window() != w {
		t.Errorf("Expected window %+v, got %+v", w, drv.Window())
	}
	if err := d.SetWindow(sensor.Window{}); err == nil {
		t.Error("Expected error for zero output window")
	}
}
