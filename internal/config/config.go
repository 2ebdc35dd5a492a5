package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mangoire/internal/sensor"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Flash     FlashConfig     `yaml:"flash"`
	Stream    StreamConfig    `yaml:"stream"`
	Settings  SettingsConfig  `yaml:"settings"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// CameraConfig はセンサー関連の設定
type CameraConfig struct {
	Driver    string `yaml:"driver"`    // simulator または v4l2
	Device    string `yaml:"device"`    // デバイスパス (例: /dev/video0)。空なら検出する
	PixFormat string `yaml:"pixformat"` // シミュレータの出力フォーマット名
	FrameSize int    `yaml:"framesize"` // 初期フレームサイズ
	FPS       int    `yaml:"fps"`       // フレームレート (fps)
	Buffers   int    `yaml:"buffers"`   // フレームバッファ数
	XCLK      int    `yaml:"xclk"`      // 入力クロック (MHz)
	Quality   int    `yaml:"quality"`   // スナップショットの変換品質 (0-63, 小さいほど高品質)
}

// FlashConfig は補助照明の設定
type FlashConfig struct {
	Enabled   bool          `yaml:"enabled"`
	LEDPath   string        `yaml:"led_path"`  // sysfs LED ディレクトリ
	MaxDuty   int           `yaml:"max_duty"`  // ストリーミング中のデューティ上限
	Intensity int           `yaml:"intensity"` // 起動時の強度 (0-255)
	Settle    time.Duration `yaml:"settle"`    // スナップショット前の点灯待ち
}

// StreamConfig はマルチパート配信の設定
type StreamConfig struct {
	FramerateHint  int `yaml:"framerate_hint"`  // X-Framerate ヘッダー
	AverageSamples int `yaml:"average_samples"` // 移動平均のサンプル数
	Quality        int `yaml:"quality"`         // 変換品質 (0-63)
}

// SettingsConfig は保存設定の置き場所
type SettingsConfig struct {
	Path         string `yaml:"path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// TelemetryConfig は計測値の配信設定
type TelemetryConfig struct {
	WebSocket bool       `yaml:"websocket"`
	MQTT      MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig は MQTT 配信の設定。Broker が空なら無効
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Driver:    "simulator",
			PixFormat: "jpeg",
			FrameSize: int(sensor.FrameSizeVGA),
			FPS:       15,
			Buffers:   2,
			XCLK:      20,
			Quality:   10,
		},
		Flash: FlashConfig{
			Enabled: true,
			MaxDuty: 255,
			Settle:  150 * time.Millisecond,
		},
		Stream: StreamConfig{
			FramerateHint:  60,
			AverageSamples: 20,
			Quality:        12,
		},
		Settings: SettingsConfig{
			Path:         "data/settings.json",
			MaxBodyBytes: 1024,
		},
		Telemetry: TelemetryConfig{
			WebSocket: true,
			MQTT: MQTTConfig{
				ClientID: "mangoire",
				Topic:    "mangoire/telemetry",
				Interval: time.Second,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// .env、CONFIG_FILE の YAML、環境変数の順に上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile は path の YAML を読んで設定を作る。path が空ならデフォルト値から始める
func LoadFile(path string) (*Config, error) {
	// .env がなくてもエラーにしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Telemetry.MQTT.Broker = getEnvOrDefault("MQTT_BROKER", c.Telemetry.MQTT.Broker)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	switch c.Camera.Driver {
	case "simulator", "v4l2":
	default:
		return fmt.Errorf("不明なドライバ: %q", c.Camera.Driver)
	}
	if _, err := c.PixFormat(); err != nil {
		return err
	}
	if _, ok := sensor.FrameSize(c.Camera.FrameSize).Resolution(); !ok {
		return fmt.Errorf("無効なフレームサイズ: %d", c.Camera.FrameSize)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("無効なFPS: %d", c.Camera.FPS)
	}
	if c.Camera.Quality < 0 || c.Camera.Quality > 63 || c.Stream.Quality < 0 || c.Stream.Quality > 63 {
		return fmt.Errorf("品質は0から63の範囲で指定してください")
	}

	if c.Flash.MaxDuty < 0 {
		return fmt.Errorf("無効なデューティ上限: %d", c.Flash.MaxDuty)
	}
	if c.Flash.Intensity < 0 || c.Flash.Intensity > 255 {
		return fmt.Errorf("無効な照明強度: %d", c.Flash.Intensity)
	}

	if c.Stream.AverageSamples < 1 {
		return fmt.Errorf("average_samples は1以上: %d", c.Stream.AverageSamples)
	}

	if c.Telemetry.MQTT.QoS > 2 {
		return fmt.Errorf("無効なQoS: %d", c.Telemetry.MQTT.QoS)
	}

	return nil
}

// PixFormat は設定されたピクセルフォーマットを返す
func (c *Config) PixFormat() (sensor.PixFormat, error) {
	return sensor.ParsePixFormat(c.Camera.PixFormat)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
