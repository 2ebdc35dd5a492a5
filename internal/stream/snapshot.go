package stream

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mangoire/internal/camera"
)

// Snapshotter は単発の静止画を取得して送る
type Snapshotter struct {
	device  *camera.Device
	encoder *camera.Encoder
	flash   *camera.Flash
	quality int
	settle  time.Duration
	logger  *zap.Logger
}

// NewSnapshotter は新しいSnapshotterを作成する
// settle は照明を点けてからキャプチャするまでの待ち時間
func NewSnapshotter(device *camera.Device, encoder *camera.Encoder, flash *camera.Flash, quality int, settle time.Duration, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		device:  device,
		encoder: encoder,
		flash:   flash,
		quality: quality,
		settle:  settle,
		logger:  logger,
	}
}

// acquireLit は必要なら照明を点けてからフレームを取得する
// ストリームが照明を保持している間は点灯状態に触らない
func (s *Snapshotter) acquireLit(ctx context.Context) (*camera.Lease, error) {
	pulse, err := s.flash.BeginPulse()
	if err != nil {
		s.logger.Warn("照明の点灯に失敗", zap.Error(err))
	}
	if pulse == nil {
		return s.device.Acquire(ctx)
	}
	defer func() {
		if err := pulse.Release(); err != nil {
			s.logger.Warn("照明の消灯に失敗", zap.Error(err))
		}
	}()

	timer := time.NewTimer(s.settle)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}
	return s.device.Acquire(ctx)
}

// CaptureJPEG は1枚を JPEG で送る。戻り値は送信したバイト数
//
// JPEG フレームはそのまま送り、それ以外はエンコーダの出力を
// チャンクごとに送る。エラーが返っても、本文の送信が始まっていれば
// ヘッダーは確定済みである。
func (s *Snapshotter) CaptureJPEG(ctx context.Context, w ChunkWriter) (int, error) {
	start := time.Now()
	lease, err := s.acquireLit(ctx)
	if err != nil {
		s.logger.Error("カメラのキャプチャに失敗", zap.Error(err))
		return 0, err
	}
	defer lease.Release()
	fb := lease.Frame()

	w.SetHeader("Content-Type", "image/jpeg")
	w.SetHeader("Content-Disposition", "inline; filename=capture.jpg")
	w.SetHeader("Access-Control-Allow-Origin", "*")
	w.SetHeader("X-Timestamp", FormatTimestamp(fb.Timestamp))

	out := &chunkIO{w: w}
	if err := s.encoder.EncodeJPEGTo(out, fb, s.quality); err != nil {
		s.logger.Error("JPEGの送信に失敗", zap.Error(err))
		return out.n, err
	}

	s.logger.Info("JPEG",
		zap.Int("bytes", out.n),
		zap.Stringer("format", fb.Format),
		zap.Duration("elapsed", time.Since(start)))
	return out.n, nil
}

// CaptureBMP は1枚を BMP に変換してから送る。戻り値は送信したバイト数
func (s *Snapshotter) CaptureBMP(ctx context.Context, w ChunkWriter) (int, error) {
	start := time.Now()
	lease, err := s.device.Acquire(ctx)
	if err != nil {
		s.logger.Error("カメラのキャプチャに失敗", zap.Error(err))
		return 0, err
	}
	defer lease.Release()

	fb := lease.Frame()
	timestamp := fb.Timestamp
	format := fb.Format

	var buf bytes.Buffer
	body, err := s.encoder.EncodeBMP(fb, &buf)
	lease.Release()
	if err != nil {
		s.logger.Error("BMPへの変換に失敗", zap.Error(err))
		return 0, err
	}

	w.SetHeader("Content-Type", "image/x-windows-bmp")
	w.SetHeader("Content-Disposition", "inline; filename=capture.bmp")
	w.SetHeader("Access-Control-Allow-Origin", "*")
	w.SetHeader("X-Timestamp", FormatTimestamp(timestamp))

	if err := w.WriteChunk(body); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	s.logger.Info("BMP",
		zap.Int("bytes", len(body)),
		zap.Stringer("format", format),
		zap.Duration("elapsed", time.Since(start)))
	return len(body), nil
}
