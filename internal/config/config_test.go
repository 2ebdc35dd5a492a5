package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	// 設定を読み込む
	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// 基本的な設定値を検証
	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// デフォルト値の検証
	if cfg.Camera.FPS <= 0 {
		t.Error("FPSが設定されていません")
	}
	if cfg.Stream.FramerateHint != 60 {
		t.Errorf("X-Framerate のデフォルトが違います: %d", cfg.Stream.FramerateHint)
	}
	if cfg.Stream.AverageSamples != 20 {
		t.Errorf("移動平均のサンプル数が違います: %d", cfg.Stream.AverageSamples)
	}
	if cfg.Settings.MaxBodyBytes != 1024 {
		t.Errorf("設定の上限バイト数が違います: %d", cfg.Settings.MaxBodyBytes)
	}
	if cfg.Flash.Settle != 150*time.Millisecond {
		t.Errorf("点灯待ち時間が違います: %v", cfg.Flash.Settle)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "不明なドライバ",
			modify:    func(c *Config) { c.Camera.Driver = "esp32" },
			expectErr: true,
		},
		{
			name:      "不明なピクセルフォーマット",
			modify:    func(c *Config) { c.Camera.PixFormat = "png" },
			expectErr: true,
		},
		{
			name:      "範囲外のフレームサイズ",
			modify:    func(c *Config) { c.Camera.FrameSize = 99 },
			expectErr: true,
		},
		{
			name:      "移動平均のサンプル数が0",
			modify:    func(c *Config) { c.Stream.AverageSamples = 0 },
			expectErr: true,
		},
		{
			name:      "負のデューティ上限",
			modify:    func(c *Config) { c.Flash.MaxDuty = -1 },
			expectErr: true,
		},
		{
			name:      "範囲外の品質",
			modify:    func(c *Config) { c.Stream.Quality = 64 },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestLoadFile はYAMLファイルと環境変数の優先順位をテストする
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  host: 127.0.0.1
  port: 9000
camera:
  driver: simulator
  pixformat: rgb565
  framesize: 6
flash:
  max_duty: 100
  settle: 50ms
telemetry:
  mqtt:
    topic: test/topic
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	// 環境変数はファイルより優先される
	t.Setenv("PORT", "9100")
	t.Setenv("MQTT_BROKER", "broker.local:1883")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("ホストが違います: %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("環境変数のポートが反映されていません: %d", cfg.Server.Port)
	}
	if cfg.Camera.FrameSize != 6 {
		t.Errorf("フレームサイズが違います: %d", cfg.Camera.FrameSize)
	}
	if f, _ := cfg.PixFormat(); f.String() != "rgb565" {
		t.Errorf("ピクセルフォーマットが違います: %s", f)
	}
	if cfg.Flash.MaxDuty != 100 || cfg.Flash.Settle != 50*time.Millisecond {
		t.Errorf("照明設定が違います: %+v", cfg.Flash)
	}
	// ファイルにない項目はデフォルト値のまま
	if cfg.Stream.FramerateHint != 60 {
		t.Errorf("デフォルト値が失われています: %d", cfg.Stream.FramerateHint)
	}
	if cfg.Telemetry.MQTT.Broker != "broker.local:1883" || cfg.Telemetry.MQTT.Topic != "test/topic" {
		t.Errorf("MQTT設定が違います: %+v", cfg.Telemetry.MQTT)
	}
}

// TestLoadFileErrors は読み込みエラーをテストする
func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("存在しないファイルでエラーが期待されました")
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("server: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(broken); err == nil {
		t.Error("不正なYAMLでエラーが期待されました")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("camera:\n  driver: esp32\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(invalid); err == nil {
		t.Error("検証エラーが期待されました")
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("CAMERA_DRIVER", "v4l2")
	t.Setenv("CAMERA_DEVICE", "/dev/video2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: %d", cfg.Server.Port)
	}
	if cfg.Camera.Driver != "v4l2" || cfg.Camera.Device != "/dev/video2" {
		t.Errorf("カメラ設定が反映されていません: %+v", cfg.Camera)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("ログレベルが反映されていません: %s", cfg.Log.Level)
	}

	// 数値でないポートは無視される
	t.Setenv("PORT", "abc")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("デフォルトのポートが期待されました: %d", cfg.Server.Port)
	}
}
