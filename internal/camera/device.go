package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mangoire/internal/sensor"
)

// Device は1台のセンサーを表すリソースオブジェクト
//
// ドライバへの呼び出しはすべて mu で直列化される。ロックは1回の
// ドライバ呼び出しの間だけ保持し、エンコードや送信中は保持しない。
type Device struct {
	driver sensor.Driver
	logger *zap.Logger
	mu     sync.Mutex

	sessionMu sync.Mutex
	session   *Session
}

// NewDevice は新しいDeviceを作成する
func NewDevice(driver sensor.Driver, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		driver: driver,
		logger: logger,
	}
}

// Do はドライバを排他的に操作する
func (d *Device) Do(fn func(drv sensor.Driver) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.driver)
}

// PixFormat は現在の出力フォーマットを返す
func (d *Device) PixFormat() sensor.PixFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver.PixFormat()
}

// Acquire は次のフレームを取得し、返却義務を持つ Lease を返す
func (d *Device) Acquire(ctx context.Context) (*Lease, error) {
	d.mu.Lock()
	fb, err := d.driver.GetFrame(ctx)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if fb == nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, sensor.ErrNoFrame)
	}
	return &Lease{device: d, frame: fb}, nil
}

// release はフレームをドライバに返却する
func (d *Device) release(fb *sensor.FrameBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver.ReturnFrame(fb)
}

// BeginStream は排他的なストリームセッションを開始する
// 既にセッションがある場合は ErrBusy を返す
func (d *Device) BeginStream() (*Session, error) {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()

	if d.session != nil {
		return nil, fmt.Errorf("%w: セッション %s", ErrBusy, d.session.ID)
	}

	s := &Session{
		ID:      uuid.New().String(),
		Started: time.Now(),
		device:  d,
	}
	d.session = s
	d.logger.Info("ストリームセッションを開始しました", zap.String("session", s.ID))
	return s, nil
}

// ActiveSession は現在のストリームセッションを返す（なければ nil）
func (d *Device) ActiveSession() *Session {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	return d.session
}

func (d *Device) endSession(s *Session) {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	if d.session == s {
		d.session = nil
		d.logger.Info("ストリームセッションを終了しました",
			zap.String("session", s.ID),
			zap.Duration("duration", time.Since(s.Started)))
	}
}

// Close はドライバを閉じる
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.driver.Close(); err != nil {
		return fmt.Errorf("ドライバの終了に失敗: %w", err)
	}
	return nil
}

// Lease はドライバから借りたフレームバッファ
//
// Release は何度呼んでも1回だけドライバに返却する。
// 返却後に Frame の Buf を読んではならない。
type Lease struct {
	device *Device
	frame  *sensor.FrameBuffer
	once   sync.Once
}

// Frame は借りているフレームを返す
func (l *Lease) Frame() *sensor.FrameBuffer {
	return l.frame
}

// Release はフレームをドライバに返却する
func (l *Lease) Release() {
	l.once.Do(func() {
		l.device.release(l.frame)
	})
}

// Session は1本のストリーム接続が保持するデバイスの占有権
type Session struct {
	ID      string
	Started time.Time
	device  *Device
	once    sync.Once
}

// End はセッションを終了し、占有を解除する
func (s *Session) End() {
	s.once.Do(func() {
		s.device.endSession(s)
	})
}
