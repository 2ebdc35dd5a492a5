package sensor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitJPEG(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x11}) // ゴミデータ
	stream.Write(frame1)
	stream.Write([]byte{0x22})
	stream.Write(frame2)
	stream.Write([]byte{0xFF, 0xD8, 0x04}) // 途中で切れたフレーム

	scanner := bufio.NewScanner(&stream)
	scanner.Split(splitJPEG)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame1) {
		t.Errorf("Frame 1 mismatch: %x", got[0])
	}
	if !bytes.Equal(got[1], frame2) {
		t.Errorf("Frame 2 mismatch: %x", got[1])
	}
}

func TestFFmpegQuality(t *testing.T) {
	if q := ffmpegQuality(0); q != 2 {
		t.Errorf("Expected 2, got %d", q)
	}
	if q := ffmpegQuality(63); q != 31 {
		t.Errorf("Expected 31, got %d", q)
	}
	if q := ffmpegQuality(-1); q != 2 {
		t.Errorf("Expected 2 for negative input, got %d", q)
	}
}

func TestV4L2Driver_Controls(t *testing.T) {
	d, err := NewV4L2Driver(V4L2Config{Device: "/dev/video0", FrameSize: FrameSizeVGA})
	if err != nil {
		t.Fatalf("NewV4L2Driver failed: %v", err)
	}

	var commands []string
	d.run = func(_ context.Context, name string, args ...string) error {
		commands = append(commands, name+" "+strings.Join(args, " "))
		return nil
	}

	if err := d.SetBrightness(1); err != nil {
		t.Fatalf("SetBrightness failed: %v", err)
	}
	if err := d.SetExposureCtrl(0); err != nil {
		t.Fatalf("SetExposureCtrl failed: %v", err)
	}

	want := []string{
		"v4l2-ctl --device /dev/video0 --set-ctrl brightness=1",
		"v4l2-ctl --device /dev/video0 --set-ctrl auto_exposure=1",
	}
	if fmt.Sprint(commands) != fmt.Sprint(want) {
		t.Errorf("Expected commands %v, got %v", want, commands)
	}

	st := d.Status()
	if st.Brightness != 1 || st.AEC != 0 {
		t.Errorf("Unexpected status: %+v", st)
	}

	if err := d.SetSpecialEffect(1); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if _, err := d.GetReg(0x3008, 0xff); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for GetReg, got %v", err)
	}

	// コマンド失敗時は状態を変えない
	d.run = func(context.Context, string, ...string) error { return errors.New("boom") }
	if err := d.SetContrast(2); err == nil {
		t.Error("Expected error when v4l2-ctl fails")
	}
	if d.Status().Contrast != 0 {
		t.Error("Expected contrast unchanged after failure")
	}
}

func TestV4L2Driver_QualityAndFrameSize(t *testing.T) {
	d, err := NewV4L2Driver(V4L2Config{Device: "/dev/video0", FrameSize: FrameSizeVGA})
	if err != nil {
		t.Fatalf("NewV4L2Driver failed: %v", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.SetQuality(64); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
	if err := d.SetQuality(12); err != nil {
		t.Fatalf("SetQuality failed: %v", err)
	}
	if err := d.SetFrameSize(FrameSizeHD); err != nil {
		t.Fatalf("SetFrameSize failed: %v", err)
	}
	st := d.Status()
	if st.Quality != 12 || st.FrameSize != FrameSizeHD {
		t.Errorf("Unexpected status: %+v", st)
	}
	if d.PixFormat() != PixFormatJPEG {
		t.Errorf("Expected JPEG, got %s", d.PixFormat())
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := map[string]int{
		"/dev/video0":  0,
		"/dev/video12": 12,
		"/dev/null":    0,
	}
	for device, want := range tests {
		if got := extractDeviceNumber(device); got != want {
			t.Errorf("extractDeviceNumber(%q) = %d, want %d", device, got, want)
		}
	}
}

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	if discovery.IsDeviceAvailable(ctx, "/dev/video999") {
		t.Error("Expected non-existent device to be unavailable")
	}
	if discovery.IsDeviceAvailable(ctx, "/invalid/path") {
		t.Error("Expected invalid path to be unavailable")
	}
}

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	discovery := NewLinuxDiscovery()

	devices, err := discovery.ScanDevices(context.Background())
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}

	// デバイスが見つからない環境もあるため、エラーがないことだけ確認
	t.Logf("Found %d video devices", len(devices))
}

func TestStaticDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewStaticDiscovery([]string{"/dev/video0", "/dev/video2"})

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	if !discovery.IsDeviceAvailable(ctx, "/dev/video2") {
		t.Error("Expected /dev/video2 to be available")
	}
	if discovery.IsDeviceAvailable(ctx, "/dev/video1") {
		t.Error("Expected /dev/video1 to be unavailable")
	}
}

func TestSysfsLED(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte("1023\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	led, err := NewSysfsLED(dir)
	if err != nil {
		t.Fatalf("NewSysfsLED failed: %v", err)
	}
	if err := led.SetDuty(255); err != nil {
		t.Fatalf("SetDuty failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "brightness"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "1023" {
		t.Errorf("Expected 1023, got %q", raw)
	}

	if err := led.SetDuty(256); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
	if _, err := NewSysfsLED(t.TempDir()); err == nil {
		t.Error("Expected error for missing max_brightness")
	}
}
