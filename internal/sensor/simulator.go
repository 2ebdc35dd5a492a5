package sensor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// SimulatorConfig は Simulator の初期設定
type SimulatorConfig struct {
	PixFormat PixFormat // 出力フォーマット
	FrameSize FrameSize // 初期フレームサイズ
	FPS       int       // フレームレート (0 の場合は待機しない)
	Buffers   int       // 同時に貸し出せるフレームバッファ数
	XCLK      int       // 入力クロック (MHz)
}

// Simulator はテストパターンを生成するセンサードライバ
//
// 実機のセンサーと同様にフレームバッファの数が有限であり、
// すべて貸し出し中の場合 GetFrame は ErrNoFrame を返す。
type Simulator struct {
	mu sync.Mutex

	format    PixFormat
	status    Status
	xclk      int
	pll       PLL
	window    Window
	width     int
	height    int
	registers map[int]int

	period      time.Duration
	buffers     int
	outstanding int
	sequence    int
	lastFrame   time.Time
	ledDuty     int

	now func() time.Time
}

// NewSimulator は新しい Simulator を作成する
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	switch cfg.PixFormat {
	case PixFormatJPEG, PixFormatRGB565, PixFormatRGB888, PixFormatGrayscale, PixFormatYUV422:
	default:
		return nil, fmt.Errorf("%w: シミュレータは %s を生成できません", ErrUnsupported, cfg.PixFormat)
	}
	res, ok := cfg.FrameSize.Resolution()
	if !ok {
		return nil, fmt.Errorf("%w: フレームサイズ %d", ErrInvalidValue, cfg.FrameSize)
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 2
	}
	if cfg.XCLK <= 0 {
		cfg.XCLK = 20
	}

	var period time.Duration
	if cfg.FPS > 0 {
		period = time.Second / time.Duration(cfg.FPS)
	}

	return &Simulator{
		format: cfg.PixFormat,
		status: Status{
			FrameSize:   cfg.FrameSize,
			Quality:     10,
			AWB:         1,
			AWBGain:     1,
			AEC:         1,
			AECValue:    300,
			AGC:         1,
			BPC:         0,
			WPC:         1,
			RawGMA:      1,
			LenC:        1,
			DCW:         1,
			GainCeiling: 0,
		},
		xclk:      cfg.XCLK,
		width:     res.Width,
		height:    res.Height,
		registers: make(map[int]int),
		period:    period,
		buffers:   cfg.Buffers,
		now:       time.Now,
	}, nil
}

// GetFrame はテストパターンのフレームを生成して貸し出す
func (s *Simulator) GetFrame(ctx context.Context) (*FrameBuffer, error) {
	s.mu.Lock()
	if s.outstanding >= s.buffers {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 全バッファ (%d) が貸し出し中", ErrNoFrame, s.buffers)
	}
	wait := time.Duration(0)
	if s.period > 0 && !s.lastFrame.IsZero() {
		wait = s.lastFrame.Add(s.period).Sub(s.now())
	}
	s.mu.Unlock()

	// 次のフレーム周期まで待機
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrNoFrame, ctx.Err())
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	img := s.renderPattern()
	var buf []byte
	if s.format == PixFormatJPEG {
		var out bytes.Buffer
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality(s.status.Quality)}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
		}
		buf = out.Bytes()
	} else {
		packed, err := PackPixels(img, s.format)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
		}
		buf = packed
	}

	s.sequence++
	s.outstanding++
	s.lastFrame = s.now()

	return &FrameBuffer{
		Buf:       buf,
		Width:     s.width,
		Height:    s.height,
		Format:    s.format,
		Timestamp: s.lastFrame,
	}, nil
}

// ReturnFrame はフレームバッファを返却する
func (s *Simulator) ReturnFrame(fb *FrameBuffer) {
	if fb == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding > 0 {
		s.outstanding--
	}
	fb.Buf = nil
}

// Outstanding は貸し出し中のフレーム数を返す
func (s *Simulator) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// renderPattern は現在の設定を反映したテストパターンを描画する
func (s *Simulator) renderPattern() *image.RGBA {
	w, h := s.width, s.height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	offset := s.sequence * 4
	bright := s.status.Brightness * 24

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			if s.status.Colorbar != 0 {
				c = colorbar(x * 8 / w)
			} else {
				c = color.RGBA{
					R: clamp8(x*255/w + bright),
					G: clamp8(y*255/h + bright),
					B: clamp8((x+offset)%w*255/w + bright),
					A: 0xff,
				}
			}
			px, py := x, y
			if s.status.HMirror != 0 {
				px = w - 1 - x
			}
			if s.status.VFlip != 0 {
				py = h - 1 - y
			}
			img.SetRGBA(px, py, c)
		}
	}
	return img
}

var colorbars = []color.RGBA{
	{0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00, 0xff},
	{0x00, 0xff, 0xff, 0xff},
	{0x00, 0xff, 0x00, 0xff},
	{0xff, 0x00, 0xff, 0xff},
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0xff},
}

func colorbar(i int) color.RGBA {
	return colorbars[i%len(colorbars)]
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// PixFormat は出力フォーマットを返す
func (s *Simulator) PixFormat() PixFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Status は現在のパラメータを返す
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// XCLK は入力クロックを返す
func (s *Simulator) XCLK() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xclk
}

// set は範囲チェックをしてからパラメータを更新する
func (s *Simulator) set(name string, v, lo, hi int, field *int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d (範囲 %d..%d)", ErrInvalidValue, name, v, lo, hi)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*field = v
	return nil
}

// SetFrameSize はフレームサイズを変更する
func (s *Simulator) SetFrameSize(size FrameSize) error {
	res, ok := size.Resolution()
	if !ok {
		return fmt.Errorf("%w: フレームサイズ %d", ErrInvalidValue, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.FrameSize = size
	s.width, s.height = res.Width, res.Height
	return nil
}

// SetQuality は JPEG 品質を設定する (0..63、小さいほど高画質)
func (s *Simulator) SetQuality(v int) error {
	return s.set("quality", v, 0, 63, &s.status.Quality)
}

// SetBrightness は明るさを設定する (-2..2)
func (s *Simulator) SetBrightness(v int) error {
	return s.set("brightness", v, -2, 2, &s.status.Brightness)
}

// SetContrast はコントラストを設定する (-2..2)
func (s *Simulator) SetContrast(v int) error {
	return s.set("contrast", v, -2, 2, &s.status.Contrast)
}

// SetSaturation は彩度を設定する (-2..2)
func (s *Simulator) SetSaturation(v int) error {
	return s.set("saturation", v, -2, 2, &s.status.Saturation)
}

// SetSharpness はシャープネスを設定する (-2..2)
func (s *Simulator) SetSharpness(v int) error {
	return s.set("sharpness", v, -2, 2, &s.status.Sharpness)
}

// SetSpecialEffect は特殊効果を設定する (0..6)
func (s *Simulator) SetSpecialEffect(v int) error {
	return s.set("special_effect", v, 0, 6, &s.status.SpecialEffect)
}

// SetWBMode はホワイトバランスのモードを設定する (0..4)
func (s *Simulator) SetWBMode(v int) error {
	return s.set("wb_mode", v, 0, 4, &s.status.WBMode)
}

// SetWhiteBalance はオートホワイトバランスを切り替える
func (s *Simulator) SetWhiteBalance(v int) error {
	return s.set("awb", v, 0, 1, &s.status.AWB)
}

// SetAWBGain は AWB ゲインを切り替える
func (s *Simulator) SetAWBGain(v int) error {
	return s.set("awb_gain", v, 0, 1, &s.status.AWBGain)
}

// SetExposureCtrl は自動露出を切り替える
func (s *Simulator) SetExposureCtrl(v int) error {
	return s.set("aec", v, 0, 1, &s.status.AEC)
}

// SetAEC2 は AEC DSP を切り替える
func (s *Simulator) SetAEC2(v int) error {
	return s.set("aec2", v, 0, 1, &s.status.AEC2)
}

// SetAELevel は露出補正を設定する (-2..2)
func (s *Simulator) SetAELevel(v int) error {
	return s.set("ae_level", v, -2, 2, &s.status.AELevel)
}

// SetAECValue は手動露出値を設定する (0..1200)
func (s *Simulator) SetAECValue(v int) error {
	return s.set("aec_value", v, 0, 1200, &s.status.AECValue)
}

// SetGainCtrl は自動ゲインを切り替える
func (s *Simulator) SetGainCtrl(v int) error {
	return s.set("agc", v, 0, 1, &s.status.AGC)
}

// SetAGCGain は手動ゲインを設定する (0..30)
func (s *Simulator) SetAGCGain(v int) error {
	return s.set("agc_gain", v, 0, 30, &s.status.AGCGain)
}

// SetGainCeiling は自動ゲインの上限を設定する (0..6)
func (s *Simulator) SetGainCeiling(v int) error {
	return s.set("gainceiling", v, 0, 6, &s.status.GainCeiling)
}

// SetBPC は黒点補正を切り替える
func (s *Simulator) SetBPC(v int) error {
	return s.set("bpc", v, 0, 1, &s.status.BPC)
}

// SetWPC は白点補正を切り替える
func (s *Simulator) SetWPC(v int) error {
	return s.set("wpc", v, 0, 1, &s.status.WPC)
}

// SetRawGMA はガンマ補正を切り替える
func (s *Simulator) SetRawGMA(v int) error {
	return s.set("raw_gma", v, 0, 1, &s.status.RawGMA)
}

// SetLenC はレンズ補正を切り替える
func (s *Simulator) SetLenC(v int) error {
	return s.set("lenc", v, 0, 1, &s.status.LenC)
}

// SetHMirror は左右反転を切り替える
func (s *Simulator) SetHMirror(v int) error {
	return s.set("hmirror", v, 0, 1, &s.status.HMirror)
}

// SetVFlip は上下反転を切り替える
func (s *Simulator) SetVFlip(v int) error {
	return s.set("vflip", v, 0, 1, &s.status.VFlip)
}

// SetDCW はダウンサイズを切り替える
func (s *Simulator) SetDCW(v int) error {
	return s.set("dcw", v, 0, 1, &s.status.DCW)
}

// SetColorbar はカラーバー表示を切り替える
func (s *Simulator) SetColorbar(v int) error {
	return s.set("colorbar", v, 0, 1, &s.status.Colorbar)
}

// GetReg はレジスタ値を読み出す。未書き込みのレジスタは 0
func (s *Simulator) GetReg(reg, mask int) (int, error) {
	if reg < 0 || reg > 0xffff {
		return 0, fmt.Errorf("%w: レジスタ 0x%x", ErrInvalidValue, reg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[reg] & mask, nil
}

// SetReg はマスクされたビットのみ書き換える
func (s *Simulator) SetReg(reg, mask, value int) error {
	if reg < 0 || reg > 0xffff {
		return fmt.Errorf("%w: レジスタ 0x%x", ErrInvalidValue, reg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[reg] = s.registers[reg]&^mask | value&mask
	return nil
}

// SetXCLK は入力クロックを設定する
func (s *Simulator) SetXCLK(mhz int) error {
	return s.set("xclk", mhz, 1, 40, &s.xclk)
}

// SetPLL は PLL 設定を保持する
func (s *Simulator) SetPLL(pll PLL) error {
	if pll.Mul < 0 || pll.Sys < 0 || pll.Root < 0 || pll.Pre < 0 {
		return fmt.Errorf("%w: PLL %+v", ErrInvalidValue, pll)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pll = pll
	return nil
}

// PLL は最後に設定された PLL を返す
func (s *Simulator) PLL() PLL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pll
}

// SetWindow は切り出しウィンドウを設定し、出力解像度を OutputX x OutputY にする
func (s *Simulator) SetWindow(w Window) error {
	if w.OutputX <= 0 || w.OutputY <= 0 {
		return fmt.Errorf("%w: 出力サイズ %dx%d", ErrInvalidValue, w.OutputX, w.OutputY)
	}
	if s.PixFormat() == PixFormatYUV422 && w.OutputX%2 != 0 {
		return fmt.Errorf("%w: YUV422 の出力幅は偶数である必要があります", ErrInvalidValue)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	s.width, s.height = w.OutputX, w.OutputY
	return nil
}

// Window は最後に設定されたウィンドウを返す
func (s *Simulator) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// SetDuty は LED のデューティ比を記録する（補助照明のシミュレーション）
func (s *Simulator) SetDuty(duty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledDuty = duty
	return nil
}

// LEDDuty は最後に書き込まれたデューティ比を返す
func (s *Simulator) LEDDuty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledDuty
}

// Close は何もしない
func (s *Simulator) Close() error {
	return nil
}
