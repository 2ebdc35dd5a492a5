package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoFrame はセンサーがフレームを生成できなかったことを表す
	ErrNoFrame = errors.New("フレームがありません")
	// ErrUnsupported はドライバが対応していない操作を表す
	ErrUnsupported = errors.New("ドライバが対応していない操作です")
	// ErrInvalidValue はパラメータ値が範囲外であることを表す
	ErrInvalidValue = errors.New("パラメータ値が不正です")
)

// PixFormat はセンサーのピクセルフォーマット
type PixFormat int

// PixFormat の定数定義（値はステータスにそのまま数値として出力される）
const (
	PixFormatRGB565    PixFormat = 0
	PixFormatYUV422    PixFormat = 1
	PixFormatYUV420    PixFormat = 2
	PixFormatGrayscale PixFormat = 3
	PixFormatJPEG      PixFormat = 4
	PixFormatRGB888    PixFormat = 5
	PixFormatRaw       PixFormat = 6
	PixFormatRGB444    PixFormat = 7
	PixFormatRGB555    PixFormat = 8
)

var pixFormatNames = map[PixFormat]string{
	PixFormatRGB565:    "rgb565",
	PixFormatYUV422:    "yuv422",
	PixFormatYUV420:    "yuv420",
	PixFormatGrayscale: "grayscale",
	PixFormatJPEG:      "jpeg",
	PixFormatRGB888:    "rgb888",
	PixFormatRaw:       "raw",
	PixFormatRGB444:    "rgb444",
	PixFormatRGB555:    "rgb555",
}

func (f PixFormat) String() string {
	if name, ok := pixFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("pixformat(%d)", int(f))
}

// ParsePixFormat は設定ファイル上の名前からピクセルフォーマットを得る
func ParsePixFormat(name string) (PixFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range pixFormatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("不明なピクセルフォーマット: %q", name)
}

// FrameSize は出力解像度クラス
type FrameSize int

// FrameSize の定数定義
const (
	FrameSize96x96 FrameSize = iota
	FrameSizeQQVGA
	FrameSize128x128
	FrameSizeQCIF
	FrameSizeHQVGA
	FrameSize240x240
	FrameSizeQVGA
	FrameSize320x320
	FrameSizeCIF
	FrameSizeHVGA
	FrameSizeVGA
	FrameSizeSVGA
	FrameSizeXGA
	FrameSizeHD
	FrameSizeSXGA
	FrameSizeUXGA
	FrameSizeFHD
)

// Resolution は画像の幅と高さ
type Resolution struct {
	Width  int
	Height int
}

var frameSizes = []Resolution{
	FrameSize96x96:   {96, 96},
	FrameSizeQQVGA:   {160, 120},
	FrameSize128x128: {128, 128},
	FrameSizeQCIF:    {176, 144},
	FrameSizeHQVGA:   {240, 176},
	FrameSize240x240: {240, 240},
	FrameSizeQVGA:    {320, 240},
	FrameSize320x320: {320, 320},
	FrameSizeCIF:     {400, 296},
	FrameSizeHVGA:    {480, 320},
	FrameSizeVGA:     {640, 480},
	FrameSizeSVGA:    {800, 600},
	FrameSizeXGA:     {1024, 768},
	FrameSizeHD:      {1280, 720},
	FrameSizeSXGA:    {1280, 1024},
	FrameSizeUXGA:    {1600, 1200},
	FrameSizeFHD:     {1920, 1080},
}

// Resolution はフレームサイズに対応する解像度を返す
func (s FrameSize) Resolution() (Resolution, bool) {
	if s < 0 || int(s) >= len(frameSizes) {
		return Resolution{}, false
	}
	return frameSizes[s], true
}

// FrameBuffer はキャプチャした1枚の画像
//
// GetFrame で得たバッファは ReturnFrame されるまでドライバの所有物であり、
// 返却後に Buf を読んではならない。
type FrameBuffer struct {
	Buf       []byte    // ピクセルデータまたはエンコード済みデータ
	Width     int       // 幅
	Height    int       // 高さ
	Format    PixFormat // ピクセルフォーマット
	Timestamp time.Time // キャプチャ時刻
}

// Len はバッファのバイト長を返す
func (fb *FrameBuffer) Len() int {
	return len(fb.Buf)
}

// Status はセンサーが保持する各パラメータの現在値
type Status struct {
	FrameSize     FrameSize
	Quality       int
	Brightness    int
	Contrast      int
	Saturation    int
	Sharpness     int
	SpecialEffect int
	WBMode        int
	AWB           int
	AWBGain       int
	AEC           int
	AEC2          int
	AELevel       int
	AECValue      int
	AGC           int
	AGCGain       int
	GainCeiling   int
	BPC           int
	WPC           int
	RawGMA        int
	LenC          int
	HMirror       int
	VFlip         int
	DCW           int
	Colorbar      int
}

// PLL はクロック生成回路の生設定
type PLL struct {
	Bypass int
	Mul    int
	Sys    int
	Root   int
	Pre    int
	SelD5  int
	PCLKEn int
	PCLK   int
}

// Window は切り出し・スケーリングの生設定
type Window struct {
	StartX  int
	StartY  int
	EndX    int
	EndY    int
	OffsetX int
	OffsetY int
	TotalX  int
	TotalY  int
	OutputX int
	OutputY int
	Scale   bool
	Binning bool
}

// Driver はイメージセンサーの操作を提供するインターフェース
type Driver interface {
	// GetFrame は次のフレームを取得する。最大1フレーム周期ブロックする
	GetFrame(ctx context.Context) (*FrameBuffer, error)
	// ReturnFrame はフレームバッファをドライバに返却する
	ReturnFrame(fb *FrameBuffer)

	// PixFormat は現在の出力ピクセルフォーマットを返す
	PixFormat() PixFormat
	// Status は各パラメータの現在値を返す
	Status() Status
	// XCLK は現在の入力クロック (MHz) を返す
	XCLK() int

	SetFrameSize(size FrameSize) error
	SetQuality(v int) error
	SetBrightness(v int) error
	SetContrast(v int) error
	SetSaturation(v int) error
	SetSharpness(v int) error
	SetSpecialEffect(v int) error
	SetWBMode(v int) error
	SetWhiteBalance(v int) error
	SetAWBGain(v int) error
	SetExposureCtrl(v int) error
	SetAEC2(v int) error
	SetAELevel(v int) error
	SetAECValue(v int) error
	SetGainCtrl(v int) error
	SetAGCGain(v int) error
	SetGainCeiling(v int) error
	SetBPC(v int) error
	SetWPC(v int) error
	SetRawGMA(v int) error
	SetLenC(v int) error
	SetHMirror(v int) error
	SetVFlip(v int) error
	SetDCW(v int) error
	SetColorbar(v int) error

	// GetReg はレジスタ値をマスクして読み出す
	GetReg(reg, mask int) (int, error)
	// SetReg はマスクされたビットのみレジスタに書き込む
	SetReg(reg, mask, value int) error
	// SetXCLK は入力クロックを MHz 単位で設定する
	SetXCLK(mhz int) error
	SetPLL(pll PLL) error
	SetWindow(w Window) error

	Close() error
}

// JPEGQuality はセンサー規約の品質値 (0-63, 小さいほど高画質) を
// image/jpeg の品質値 (1-100, 大きいほど高画質) に変換する
func JPEGQuality(q int) int {
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	quality := 100 - q*100/63
	if quality < 1 {
		quality = 1
	}
	return quality
}
