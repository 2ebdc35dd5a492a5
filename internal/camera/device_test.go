package camera

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"mangoire/internal/sensor"
)

func TestDevice_AcquireRelease(t *testing.T) {
	drv := sensor.NewMockDriver(sensor.PixFormatJPEG)
	dev := NewDevice(drv, zap.NewNop())

	lease, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if lease.Frame().Len() == 0 {
		t.Error("Expected non-empty frame")
	}

	lease.Release()
	lease.Release() // 二重返却は無視される

	if drv.Acquired() != 1 {
		t.Errorf("Expected 1 acquire, got %d", drv.Acquired())
	}
	if drv.Released() != 1 {
		t.Errorf("Expected 1 release, got %d", drv.Released())
	}
}

func TestDevice_AcquireFailure(t *testing.T) {
	drv := sensor.NewMockDriver(sensor.PixFormatJPEG)
	drv.SetFailGet(sensor.ErrNoFrame)
	dev := NewDevice(drv, zap.NewNop())

	_, err := dev.Acquire(context.Background())
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("Expected ErrCapture, got %v", err)
	}
	if !errors.Is(err, sensor.ErrNoFrame) {
		t.Errorf("Expected wrapped ErrNoFrame, got %v", err)
	}
	if drv.Released() != 0 {
		t.Errorf("Expected no release, got %d", drv.Released())
	}
}

func TestDevice_StreamSession(t *testing.T) {
	dev := NewDevice(sensor.NewMockDriver(sensor.PixFormatJPEG), zap.NewNop())

	s1, err := dev.BeginStream()
	if err != nil {
		t.Fatalf("BeginStream failed: %v", err)
	}
	if s1.ID == "" {
		t.Error("Expected session ID")
	}
	if dev.ActiveSession() != s1 {
		t.Error("Expected active session to be s1")
	}

	if _, err := dev.BeginStream(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}

	s1.End()
	s1.End()
	if dev.ActiveSession() != nil {
		t.Error("Expected no active session after End")
	}

	s2, err := dev.BeginStream()
	if err != nil {
		t.Fatalf("BeginStream after End failed: %v", err)
	}
	if s2.ID == s1.ID {
		t.Error("Expected a fresh session ID")
	}

	// 古いセッションの End は新しいセッションを解除しない
	s1.End()
	if dev.ActiveSession() != s2 {
		t.Error("Expected s2 to remain active")
	}
	s2.End()
}

func TestDevice_ConcurrentAccess(t *testing.T) {
	drv := sensor.NewMockDriver(sensor.PixFormatRGB565)
	dev := NewDevice(drv, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if lease, err := dev.Acquire(ctx); err == nil {
					lease.Release()
				}
				_ = dev.Do(func(drv sensor.Driver) error {
					return drv.SetQuality(i)
				})
			}
		}(i)
	}
	wg.Wait()

	if drv.Acquired() != drv.Released() {
		t.Errorf("Expected acquires (%d) == releases (%d)", drv.Acquired(), drv.Released())
	}
	if drv.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", drv.Outstanding())
	}
}

func TestOpenDriver(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	drv, err := OpenDriver(ctx, Options{Driver: DriverSimulator, PixFormat: sensor.PixFormatJPEG, FrameSize: sensor.FrameSizeQVGA}, sensor.NewStaticDiscovery(nil), logger)
	if err != nil {
		t.Fatalf("OpenDriver failed: %v", err)
	}
	led, err := OpenLED(Options{}, drv)
	if err != nil {
		t.Fatalf("OpenLED failed: %v", err)
	}
	if led == nil {
		t.Error("Expected simulator to act as LED")
	}

	if _, err := OpenDriver(ctx, Options{Driver: DriverV4L2}, sensor.NewStaticDiscovery(nil), logger); err == nil {
		t.Error("Expected error when no device is discovered")
	}
	if _, err := OpenDriver(ctx, Options{Driver: DriverV4L2, Device: "/dev/video9"}, sensor.NewStaticDiscovery([]string{"/dev/video0"}), logger); err == nil {
		t.Error("Expected error for unavailable device")
	}

	v4l2, err := OpenDriver(ctx, Options{Driver: DriverV4L2, FrameSize: sensor.FrameSizeVGA}, sensor.NewStaticDiscovery([]string{"/dev/video0"}), logger)
	if err != nil {
		t.Fatalf("OpenDriver v4l2 failed: %v", err)
	}
	defer func() { _ = v4l2.Close() }()
	if v4l2.PixFormat() != sensor.PixFormatJPEG {
		t.Errorf("Expected JPEG, got %s", v4l2.PixFormat())
	}

	if _, err := OpenDriver(ctx, Options{Driver: "bogus"}, sensor.NewStaticDiscovery(nil), logger); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
