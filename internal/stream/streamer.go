package stream

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mangoire/internal/camera"
	"mangoire/internal/telemetry"
)

// Boundary はマルチパートの区切り文字列
const Boundary = "123456789000000000000987654321"

const (
	contentType = "multipart/x-mixed-replace;boundary=" + Boundary
	boundary    = "\r\n--" + Boundary + "\r\n"
	partHeader  = "Content-Type: image/jpeg\r\nContent-Length: %d\r\nX-Timestamp: %s\r\n\r\n"
)

// Options はストリーミングの設定
type Options struct {
	Quality        int // 非 JPEG フレームを変換する際の品質 (0-63)
	FramerateHint  int // X-Framerate ヘッダーで通知するフレームレート
	AverageSamples int // フレーム間隔の移動平均サンプル数
}

// Streamer はキャプチャ→変換→送信のループを駆動する
type Streamer struct {
	device  *camera.Device
	encoder *camera.Encoder
	flash   *camera.Flash
	sink    telemetry.Sink
	opts    Options
	logger  *zap.Logger

	now func() time.Time
}

// NewStreamer は新しいStreamerを作成する
func NewStreamer(device *camera.Device, encoder *camera.Encoder, flash *camera.Flash, sink telemetry.Sink, opts Options, logger *zap.Logger) *Streamer {
	if opts.AverageSamples < 1 {
		opts.AverageSamples = 20
	}
	if sink == nil {
		sink = telemetry.Sinks{}
	}
	return &Streamer{
		device:  device,
		encoder: encoder,
		flash:   flash,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は接続が切れるかキャプチャに失敗するまでフレームを送り続ける
//
// デバイスが別のストリームに使われている場合は何も書かずに camera.ErrBusy を返す。
// 送信失敗は ErrTransport、キャプチャ失敗は camera.ErrCapture、
// 変換失敗は camera.ErrConversion でラップして返す。
func (s *Streamer) Run(ctx context.Context, w ChunkWriter) error {
	session, err := s.device.BeginStream()
	if err != nil {
		return err
	}
	defer session.End()

	w.SetHeader("Content-Type", contentType)
	w.SetHeader("Access-Control-Allow-Origin", "*")
	w.SetHeader("X-Framerate", strconv.Itoa(s.opts.FramerateHint))
	w.SetHeader("X-Session-Id", session.ID)

	if err := s.flash.BeginStream(); err != nil {
		s.logger.Warn("照明の点灯に失敗", zap.Error(err))
	}
	defer func() {
		if err := s.flash.EndStream(); err != nil {
			s.logger.Warn("照明の消灯に失敗", zap.Error(err))
		}
	}()

	meter := telemetry.NewMeter(session.ID, s.opts.AverageSamples, s.now())
	var scratch bytes.Buffer

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st, err := s.sendFrame(ctx, w, &scratch)
		if err != nil {
			s.logger.Info("ストリームを終了します", zap.String("session", session.ID), zap.Error(err))
			return err
		}

		stats := meter.Record(s.now(), st.bytes, st.width, st.height)
		s.sink.Observe(stats)
	}
}

type sent struct {
	bytes  int
	width  int
	height int
}

// sendFrame は1フレームを取得して1パート分を送る
// フレームはどの経路で抜けても1回だけ返却される
func (s *Streamer) sendFrame(ctx context.Context, w ChunkWriter, scratch *bytes.Buffer) (sent, error) {
	lease, err := s.device.Acquire(ctx)
	if err != nil {
		s.logger.Error("カメラのキャプチャに失敗", zap.Error(err))
		return sent{}, err
	}
	defer lease.Release()

	fb := lease.Frame()
	st := sent{width: fb.Width, height: fb.Height}
	timestamp := fb.Timestamp

	body, converted, err := s.encoder.EnsureJPEG(fb, s.opts.Quality, scratch)
	if err != nil {
		s.logger.Error("JPEGへの変換に失敗", zap.Error(err))
		return sent{}, err
	}
	if converted {
		// 画素は scratch にコピー済みなので、ハードウェアの枠を先に空ける
		lease.Release()
	}
	st.bytes = len(body)

	if err := writePart(w, body, timestamp); err != nil {
		return sent{}, err
	}
	return st, nil
}

// writePart は境界・パートヘッダー・本文を3回のチャンクで送る
func writePart(w ChunkWriter, body []byte, timestamp time.Time) error {
	if err := w.WriteChunk([]byte(boundary)); err != nil {
		return fmt.Errorf("%w: 境界: %w", ErrTransport, err)
	}
	header := fmt.Sprintf(partHeader, len(body), FormatTimestamp(timestamp))
	if err := w.WriteChunk([]byte(header)); err != nil {
		return fmt.Errorf("%w: ヘッダー: %w", ErrTransport, err)
	}
	if err := w.WriteChunk(body); err != nil {
		return fmt.Errorf("%w: 本文: %w", ErrTransport, err)
	}
	return nil
}
