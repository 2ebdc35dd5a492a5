package stream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTransport はチャンクの送信に失敗したことを表す（クライアント切断とみなす）
var ErrTransport = errors.New("送信に失敗しました")

// ChunkWriter はレスポンスをチャンク単位で送る転送プリミティブ
//
// SetHeader は最初の WriteChunk より前にのみ有効。
// WriteChunk はチャンクごとに成否を返す。
type ChunkWriter interface {
	SetHeader(key, value string)
	WriteChunk(p []byte) error
}

// HTTPWriter は http.ResponseWriter を ChunkWriter として扱う
type HTTPWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	written bool
}

// NewHTTPWriter は新しいHTTPWriterを作成する
func NewHTTPWriter(w http.ResponseWriter) *HTTPWriter {
	flusher, _ := w.(http.Flusher)
	return &HTTPWriter{w: w, flusher: flusher}
}

// SetHeader はレスポンスヘッダーを設定する
func (h *HTTPWriter) SetHeader(key, value string) {
	h.w.Header().Set(key, value)
}

// WriteChunk は p を書き込んで即座にフラッシュする
func (h *HTTPWriter) WriteChunk(p []byte) error {
	h.written = true
	if _, err := h.w.Write(p); err != nil {
		return err
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
	return nil
}

// Written は本文の送信が始まったかを返す
func (h *HTTPWriter) Written() bool {
	return h.written
}

// chunkIO は ChunkWriter を io.Writer に変換する
type chunkIO struct {
	w ChunkWriter
	n int
}

func (c *chunkIO) Write(p []byte) (int, error) {
	if err := c.w.WriteChunk(p); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.n += len(p)
	return len(p), nil
}

// FormatTimestamp はキャプチャ時刻を "秒.マイクロ秒" (6桁ゼロ埋め) で表す
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
