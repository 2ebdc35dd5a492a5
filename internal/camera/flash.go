package camera

import (
	"fmt"
	"sync"

	"mangoire/internal/sensor"
)

// MaxDuty は LED デューティの上限値
const MaxDuty = 255

// LED は補助照明のハードウェア出力
type LED interface {
	SetDuty(duty int) error
}

// Flash は補助照明とキャプチャの同期を管理する
//
// ストリーミング中は設定強度を ceiling で頭打ちにし、
// 単発撮影では設定強度をそのまま使う。
// 点灯の判断とハードウェアへの書き込みは同じロックの中で行う。
type Flash struct {
	mu        sync.Mutex
	led       LED
	ceiling   int
	intensity int
	streaming bool
	pulses    int // 点灯中の単発撮影の数
	duty      int
}

// NewFlash は新しいFlashを作成する。led が nil の場合は照明なしとして振る舞う
func NewFlash(led LED, ceiling int) *Flash {
	if ceiling < 0 || ceiling > MaxDuty {
		ceiling = MaxDuty
	}
	return &Flash{
		led:     led,
		ceiling: ceiling,
	}
}

// Enabled は照明が構成されているかを返す
func (f *Flash) Enabled() bool {
	return f != nil && f.led != nil
}

// Intensity は設定強度を返す。照明がない場合は -1
func (f *Flash) Intensity() int {
	if !f.Enabled() {
		return -1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intensity
}

// SetIntensity は強度を設定する。ストリーミング中は即座に反映する
func (f *Flash) SetIntensity(v int) error {
	if !f.Enabled() {
		return fmt.Errorf("%w: 照明が構成されていません", sensor.ErrUnsupported)
	}
	if v < 0 || v > MaxDuty {
		return fmt.Errorf("%w: led_intensity=%d", sensor.ErrInvalidValue, v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.intensity = v
	if f.streaming {
		return f.applyLocked(true)
	}
	return nil
}

// BeginStream はストリームとして照明を取得し、上限付きの強度で点灯する
// 単発撮影が点灯中でもストリームが照明を引き継ぐ
func (f *Flash) BeginStream() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = true
	if f.led == nil {
		return nil
	}
	return f.applyLocked(true)
}

// EndStream はストリームの照明を手放す。点灯を待つ単発撮影があれば設定強度に戻す
func (f *Flash) EndStream() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	if f.led == nil {
		return nil
	}
	return f.applyLocked(f.pulses > 0)
}

// Streaming はストリーミング中かを返す
func (f *Flash) Streaming() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

// Pulse は単発撮影のための点灯。Release で手放す
type Pulse struct {
	flash *Flash
	once  sync.Once
}

// BeginPulse は単発撮影のために照明を点ける
//
// 照明がないか、ストリームが照明を保持している場合は何もせず nil を返す。
// 点灯に失敗した場合もエラーと一緒に Pulse を返すので、呼び出し側は Release すること。
func (f *Flash) BeginPulse() (*Pulse, error) {
	if !f.Enabled() {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streaming {
		return nil, nil
	}
	f.pulses++
	return &Pulse{flash: f}, f.applyLocked(true)
}

// Release は単発撮影の点灯を手放す。何度呼んでもよい
// その間にストリームが照明を取得していれば消灯しない
func (p *Pulse) Release() error {
	if p == nil {
		return nil
	}
	var err error
	p.once.Do(func() {
		err = p.flash.endPulse()
	})
	return err
}

func (f *Flash) endPulse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulses--
	if f.streaming || f.pulses > 0 {
		return nil
	}
	return f.applyLocked(false)
}

// Set は照明を点灯・消灯する
func (f *Flash) Set(on bool) error {
	if !f.Enabled() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(on)
}

// Duty は最後にハードウェアへ書き込んだデューティを返す
func (f *Flash) Duty() int {
	if !f.Enabled() {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duty
}

func (f *Flash) applyLocked(on bool) error {
	duty := 0
	if on {
		duty = f.intensity
		if f.streaming && duty > f.ceiling {
			duty = f.ceiling
		}
	}
	if err := f.led.SetDuty(duty); err != nil {
		return fmt.Errorf("LEDの設定に失敗: %w", err)
	}
	f.duty = duty
	return nil
}
