package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// PublisherConfig は MQTT 配信の設定
type PublisherConfig struct {
	Broker   string        // host:port
	ClientID string        // クライアントID
	Topic    string        // 配信先トピック
	QoS      byte          // 0, 1, 2
	Interval time.Duration // 配信の最小間隔（0 なら毎フレーム）
}

// Publisher は計測値を MQTT ブローカーへ配信する
type Publisher struct {
	cfg    PublisherConfig
	client mqtt.Client
	queue  chan FrameStats
	logger *zap.Logger

	mu        sync.Mutex
	lastSent  time.Time
	published uint64
	errors    uint64
}

// NewPublisher は新しいPublisherを作成する
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTTブローカーに接続しました", zap.String("broker", cfg.Broker), zap.String("client_id", cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT接続が切断されました。自動再接続します", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	return newPublisher(cfg, mqtt.NewClient(opts), logger)
}

func newPublisher(cfg PublisherConfig, client mqtt.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		client: client,
		queue:  make(chan FrameStats, 16),
		logger: logger,
	}
}

// Connect はブローカーに接続する
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("MQTT接続がタイムアウトしました: %s", p.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT接続に失敗: %w", err)
	}
	return nil
}

// Observe は計測値を配信キューに積む
// Interval 内の計測値とキュー溢れは捨てる
func (p *Publisher) Observe(st FrameStats) {
	p.mu.Lock()
	if p.cfg.Interval > 0 && !p.lastSent.IsZero() && st.Timestamp.Sub(p.lastSent) < p.cfg.Interval {
		p.mu.Unlock()
		return
	}
	p.lastSent = st.Timestamp
	p.mu.Unlock()

	select {
	case p.queue <- st:
	default:
	}
}

// Run はキューを読み出してブローカーへ送り続ける
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-p.queue:
			if err := p.publish(st); err != nil {
				p.logger.Warn("テレメトリの配信に失敗", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publish(st FrameStats) error {
	if !p.client.IsConnected() {
		p.countError()
		return fmt.Errorf("MQTTに接続されていません")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		p.countError()
		return fmt.Errorf("計測値のシリアライズに失敗: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("配信がタイムアウトしました")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("配信に失敗: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats は配信成功数と失敗数を返す
func (p *Publisher) Stats() (published, errors uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.errors
}

// Close はブローカーから切断する
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
