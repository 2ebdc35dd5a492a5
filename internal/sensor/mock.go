package sensor

import (
	"context"
	"sync"
)

// MockDriver は取得・返却回数を数えるテスト用ドライバ
// パラメータ操作は埋め込んだ Simulator がそのまま処理する
type MockDriver struct {
	*Simulator

	mu       sync.Mutex
	acquired int
	released int
	failGet  error
	fixed    *FrameBuffer
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver(format PixFormat) *MockDriver {
	sim, err := NewSimulator(SimulatorConfig{PixFormat: format, FrameSize: FrameSize96x96, Buffers: 4})
	if err != nil {
		panic(err)
	}
	return &MockDriver{Simulator: sim}
}

// SetFailGet は GetFrame が返すエラーを設定する（nil で解除）
func (m *MockDriver) SetFailGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = err
}

// SetFixedFrame は以後 GetFrame が返すフレームを固定する
func (m *MockDriver) SetFixedFrame(fb FrameBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = &fb
}

// GetFrame はフレームを貸し出して取得回数を数える
func (m *MockDriver) GetFrame(ctx context.Context) (*FrameBuffer, error) {
	m.mu.Lock()
	failGet, fixed := m.failGet, m.fixed
	m.mu.Unlock()

	if failGet != nil {
		return nil, failGet
	}

	var fb *FrameBuffer
	if fixed != nil {
		copied := *fixed
		copied.Buf = append([]byte(nil), fixed.Buf...)
		fb = &copied
	} else {
		var err error
		fb, err = m.Simulator.GetFrame(ctx)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return fb, nil
}

// ReturnFrame はフレームを返却して返却回数を数える
func (m *MockDriver) ReturnFrame(fb *FrameBuffer) {
	m.mu.Lock()
	fixed := m.fixed != nil
	m.released++
	m.mu.Unlock()

	if fixed {
		fb.Buf = nil
		return
	}
	m.Simulator.ReturnFrame(fb)
}

// Acquired は GetFrame が成功した回数を返す
func (m *MockDriver) Acquired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

// Released は ReturnFrame が呼ばれた回数を返す
func (m *MockDriver) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
