package sensor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// V4L2Config は V4L2Driver の設定
type V4L2Config struct {
	Device       string        // デバイスパス（例: /dev/video0）
	FrameSize    FrameSize     // 初期フレームサイズ
	FPS          int           // フレームレート
	FrameTimeout time.Duration // フレーム待ちの上限
}

// v4l2Controls は制御名と v4l2-ctl のコントロール名の対応
var v4l2Controls = map[string]string{
	"brightness": "brightness",
	"contrast":   "contrast",
	"saturation": "saturation",
	"sharpness":  "sharpness",
	"awb":        "white_balance_automatic",
	"agc_gain":   "gain",
	"aec_value":  "exposure_time_absolute",
	"hmirror":    "horizontal_flip",
	"vflip":      "vertical_flip",
}

// V4L2Driver は ffmpeg と v4l2-ctl を使って V4L2 デバイスを扱うセンサードライバ
//
// フレームは ffmpeg の image2pipe 出力 (MJPEG) から切り出すため、
// 出力フォーマットは常に JPEG になる。
type V4L2Driver struct {
	cfg V4L2Config

	mu      sync.Mutex
	status  Status
	width   int
	height  int
	frames  chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	// run はコマンドを実行する（テストで差し替える）
	run func(ctx context.Context, name string, args ...string) error
}

// NewV4L2Driver は新しい V4L2Driver を作成する
func NewV4L2Driver(cfg V4L2Config) (*V4L2Driver, error) {
	res, ok := cfg.FrameSize.Resolution()
	if !ok {
		return nil, fmt.Errorf("%w: フレームサイズ %d", ErrInvalidValue, cfg.FrameSize)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 5 * time.Second
	}

	return &V4L2Driver{
		cfg:    cfg,
		status: Status{FrameSize: cfg.FrameSize, Quality: 10, AWB: 1, AEC: 1, AGC: 1},
		width:  res.Width,
		height: res.Height,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}, nil
}

// GetFrame はパイプから次の JPEG フレームを取り出す
func (d *V4L2Driver) GetFrame(ctx context.Context) (*FrameBuffer, error) {
	d.mu.Lock()
	if d.frames == nil {
		if err := d.startLocked(); err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
		}
	}
	frames, width, height := d.frames, d.width, d.height
	d.mu.Unlock()

	timer := time.NewTimer(d.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-frames:
		if !ok {
			d.mu.Lock()
			err := d.lastErr
			if d.frames == frames {
				d.frames = nil
			}
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: ffmpeg が終了しました: %v", ErrNoFrame, err)
		}
		return &FrameBuffer{
			Buf:       frame,
			Width:     width,
			Height:    height,
			Format:    PixFormatJPEG,
			Timestamp: time.Now(),
		}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %v 以内にフレームが届きません", ErrNoFrame, d.cfg.FrameTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, ctx.Err())
	}
}

// ReturnFrame はフレームを返却する（ヒープ上のコピーなので参照を外すだけ）
func (d *V4L2Driver) ReturnFrame(fb *FrameBuffer) {
	if fb != nil {
		fb.Buf = nil
	}
}

// startLocked は連続キャプチャ用の ffmpeg を起動する
func (d *V4L2Driver) startLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", d.width, d.height),
		"-r", strconv.Itoa(d.cfg.FPS),
		"-i", d.cfg.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(ffmpegQuality(d.status.Quality)),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	frames := make(chan []byte, 2)
	done := make(chan struct{})
	d.frames = frames
	d.cancel = cancel
	d.done = done

	go func() {
		defer close(done)
		defer close(frames)
		err := readJPEGFrames(ctx, stdout, frames)
		waitErr := cmd.Wait()
		d.mu.Lock()
		if err != nil {
			d.lastErr = err
		} else {
			d.lastErr = waitErr
		}
		d.mu.Unlock()
	}()

	return nil
}

// stopLocked は ffmpeg を停止し、終了を待つ
func (d *V4L2Driver) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	done := d.done
	d.cancel = nil
	d.frames = nil
	d.done = nil

	d.mu.Unlock()
	<-done
	d.mu.Lock()
}

// readJPEGFrames はストリームから JPEG を切り出してチャンネルに送る
// 受信側が遅い場合は古いフレームを捨てる
func readJPEGFrames(ctx context.Context, r io.Reader, frames chan []byte) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 8*1024*1024)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		select {
		case frames <- frame:
		case <-ctx.Done():
			return nil
		default:
			// 最新フレームを優先
			select {
			case <-frames:
			default:
			}
			frames <- frame
		}
	}
	return scanner.Err()
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG は SOI (FF D8) から EOI (FF D9) までを1トークンとする bufio.SplitFunc
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// 開始マーカーがなければ末尾1バイトを残して捨てる
		if atEOF || len(data) == 0 {
			return len(data), nil, nil
		}
		return len(data) - 1, nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだない
		return start, nil, nil
	}

	end += start + 2 + len(jpegEOI)
	return end, data[start:end], nil
}

// ffmpegQuality はセンサー規約の品質値 (0-63) を ffmpeg の -q:v (2-31) に変換する
func ffmpegQuality(q int) int {
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	return 2 + q*29/63
}

// restart は設定変更を反映するためにストリームを再起動する
func (d *V4L2Driver) restart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.stopLocked()
	}
}

// setControl は v4l2-ctl でコントロールを設定する
func (d *V4L2Driver) setControl(name string, v int, field *int) error {
	control, ok := v4l2Controls[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.run(ctx, "v4l2-ctl", "--device", d.cfg.Device, "--set-ctrl", fmt.Sprintf("%s=%d", control, v)); err != nil {
		return fmt.Errorf("コントロール %s の設定に失敗: %w", control, err)
	}

	d.mu.Lock()
	*field = v
	d.mu.Unlock()
	return nil
}

func (d *V4L2Driver) unsupported(name string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, name)
}

// PixFormat は常に JPEG
func (d *V4L2Driver) PixFormat() PixFormat {
	return PixFormatJPEG
}

// Status は最後に設定された値を返す
func (d *V4L2Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// XCLK は外部クロックを持たないため 0
func (d *V4L2Driver) XCLK() int {
	return 0
}

// SetFrameSize は解像度を変更してストリームを再起動する
func (d *V4L2Driver) SetFrameSize(size FrameSize) error {
	res, ok := size.Resolution()
	if !ok {
		return fmt.Errorf("%w: フレームサイズ %d", ErrInvalidValue, size)
	}
	d.mu.Lock()
	d.status.FrameSize = size
	d.width, d.height = res.Width, res.Height
	d.mu.Unlock()

	d.restart()
	return nil
}

// SetQuality は ffmpeg のエンコード品質を変更してストリームを再起動する
func (d *V4L2Driver) SetQuality(v int) error {
	if v < 0 || v > 63 {
		return fmt.Errorf("%w: quality=%d", ErrInvalidValue, v)
	}
	d.mu.Lock()
	d.status.Quality = v
	d.mu.Unlock()

	d.restart()
	return nil
}

// SetBrightness は v4l2 の brightness に反映する
func (d *V4L2Driver) SetBrightness(v int) error {
	return d.setControl("brightness", v, &d.status.Brightness)
}

// SetContrast は v4l2 の contrast に反映する
func (d *V4L2Driver) SetContrast(v int) error {
	return d.setControl("contrast", v, &d.status.Contrast)
}

// SetSaturation は v4l2 の saturation に反映する
func (d *V4L2Driver) SetSaturation(v int) error {
	return d.setControl("saturation", v, &d.status.Saturation)
}

// SetSharpness は v4l2 の sharpness に反映する
func (d *V4L2Driver) SetSharpness(v int) error {
	return d.setControl("sharpness", v, &d.status.Sharpness)
}

// SetWhiteBalance はオートホワイトバランスを切り替える
func (d *V4L2Driver) SetWhiteBalance(v int) error {
	return d.setControl("awb", v, &d.status.AWB)
}

// SetAGCGain は手動ゲインを設定する
func (d *V4L2Driver) SetAGCGain(v int) error {
	return d.setControl("agc_gain", v, &d.status.AGCGain)
}

// SetAECValue は手動露出値を設定する
func (d *V4L2Driver) SetAECValue(v int) error {
	return d.setControl("aec_value", v, &d.status.AECValue)
}

// SetHMirror は左右反転を切り替える
func (d *V4L2Driver) SetHMirror(v int) error {
	return d.setControl("hmirror", v, &d.status.HMirror)
}

// SetVFlip は上下反転を切り替える
func (d *V4L2Driver) SetVFlip(v int) error {
	return d.setControl("vflip", v, &d.status.VFlip)
}

// SetExposureCtrl は auto_exposure を切り替える（1: 手動, 3: 絞り優先）
func (d *V4L2Driver) SetExposureCtrl(v int) error {
	mode := 1
	if v != 0 {
		mode = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.run(ctx, "v4l2-ctl", "--device", d.cfg.Device, "--set-ctrl", fmt.Sprintf("auto_exposure=%d", mode)); err != nil {
		return fmt.Errorf("コントロール auto_exposure の設定に失敗: %w", err)
	}

	d.mu.Lock()
	d.status.AEC = v
	d.mu.Unlock()
	return nil
}

// 以下は UVC カメラに対応するコントロールがないため ErrUnsupported を返す
func (d *V4L2Driver) SetSpecialEffect(int) error { return d.unsupported("special_effect") }
func (d *V4L2Driver) SetWBMode(int) error        { return d.unsupported("wb_mode") }
func (d *V4L2Driver) SetAWBGain(int) error       { return d.unsupported("awb_gain") }
func (d *V4L2Driver) SetAEC2(int) error          { return d.unsupported("aec2") }
func (d *V4L2Driver) SetAELevel(int) error       { return d.unsupported("ae_level") }
func (d *V4L2Driver) SetGainCtrl(int) error      { return d.unsupported("agc") }
func (d *V4L2Driver) SetGainCeiling(int) error   { return d.unsupported("gainceiling") }
func (d *V4L2Driver) SetBPC(int) error           { return d.unsupported("bpc") }
func (d *V4L2Driver) SetWPC(int) error           { return d.unsupported("wpc") }
func (d *V4L2Driver) SetRawGMA(int) error        { return d.unsupported("raw_gma") }
func (d *V4L2Driver) SetLenC(int) error          { return d.unsupported("lenc") }
func (d *V4L2Driver) SetDCW(int) error           { return d.unsupported("dcw") }
func (d *V4L2Driver) SetColorbar(int) error      { return d.unsupported("colorbar") }

// レジスタやクロック、ウィンドウも UVC 経由では直接操作できない
func (d *V4L2Driver) GetReg(int, int) (int, error) { return 0, d.unsupported("get_reg") }
func (d *V4L2Driver) SetReg(int, int, int) error   { return d.unsupported("set_reg") }
func (d *V4L2Driver) SetXCLK(int) error            { return d.unsupported("xclk") }
func (d *V4L2Driver) SetPLL(PLL) error             { return d.unsupported("pll") }
func (d *V4L2Driver) SetWindow(Window) error       { return d.unsupported("window") }

// Close は ffmpeg を停止する
func (d *V4L2Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}
