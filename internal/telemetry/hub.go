package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Hub は計測値を WebSocket クライアントへ配信する
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	messages chan FrameStats
	logger   *zap.Logger
}

// NewHub は新しいHubを作成する
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		messages: make(chan FrameStats, 64),
		logger:   logger,
	}
}

// Observe は計測値を配信キューに積む。キューが満杯なら捨てる
func (h *Hub) Observe(st FrameStats) {
	select {
	case h.messages <- st:
	default:
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run はキューの計測値を全クライアントに送り続ける
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case st := <-h.messages:
			payload, err := json.Marshal(st)
			if err != nil {
				continue
			}
			h.broadcast(payload)
		}
	}
}

// broadcast は全クライアントに送る。書き込み中は h.mu を持たない
func (h *Hub) broadcast(payload []byte) {
	type target struct {
		conn    *websocket.Conn
		writeMu *sync.Mutex
	}
	h.mu.Lock()
	targets := make([]target, 0, len(h.clients))
	for conn, writeMu := range h.clients {
		targets = append(targets, target{conn: conn, writeMu: writeMu})
	}
	h.mu.Unlock()

	for _, tg := range targets {
		if err := writeMessage(tg.conn, tg.writeMu, websocket.TextMessage, payload); err != nil {
			h.removeClient(tg.conn)
		}
	}
}

// ServeWS は HTTP 接続を WebSocket にアップグレードして購読者に加える
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocketのアップグレードに失敗", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()
	h.logger.Info("テレメトリ購読者が接続しました", zap.String("remote", r.RemoteAddr))

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)

		// クライアントからのメッセージは読み捨てる（切断検出のため）
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
		h.logger.Info("テレメトリ購読者が切断しました", zap.String("remote", conn.RemoteAddr().String()))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
