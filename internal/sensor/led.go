package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsLED は /sys/class/leds 配下の LED を PWM デューティで駆動する
type SysfsLED struct {
	dir string
	max int
}

// NewSysfsLED は LED ディレクトリ（例: /sys/class/leds/flash）から SysfsLED を作成する
// max_brightness を読み、デューティ 0-255 をその範囲に写像する
func NewSysfsLED(dir string) (*SysfsLED, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("max_brightnessの読み取りに失敗: %w", err)
	}
	maxBrightness, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || maxBrightness <= 0 {
		return nil, fmt.Errorf("max_brightnessが不正です: %q", strings.TrimSpace(string(raw)))
	}
	return &SysfsLED{dir: dir, max: maxBrightness}, nil
}

// SetDuty はデューティ (0-255) を brightness に書き込む
func (l *SysfsLED) SetDuty(duty int) error {
	if duty < 0 || duty > 255 {
		return fmt.Errorf("%w: duty=%d", ErrInvalidValue, duty)
	}
	value := duty * l.max / 255
	if err := os.WriteFile(filepath.Join(l.dir, "brightness"), []byte(strconv.Itoa(value)), 0o644); err != nil {
		return fmt.Errorf("brightnessの書き込みに失敗: %w", err)
	}
	return nil
}
