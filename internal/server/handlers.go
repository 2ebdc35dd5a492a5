package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangoire/internal/camera"
	"mangoire/internal/sensor"
	"mangoire/internal/settings"
	"mangoire/internal/stream"
)

// Handler は各エンドポイントの実装
type Handler struct {
	app    *App
	logger *zap.Logger
}

// Health はヘルスチェックエンドポイントの実装
func (h *Handler) Health(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"streaming": h.app.Device.ActiveSession() != nil,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.app.Hub != nil {
		response["ws_clients"] = h.app.Hub.ClientCount()
	}
	if h.app.Publisher != nil {
		published, failed := h.app.Publisher.Stats()
		response["mqtt"] = gin.H{"published": published, "errors": failed}
	}
	c.JSON(http.StatusOK, response)
}

// Stream はマルチパートストリーミングエンドポイントの実装
// クライアントが切断するかキャプチャに失敗するまで返らない
func (h *Handler) Stream(c *gin.Context) {
	w := stream.NewHTTPWriter(c.Writer)
	err := h.app.Streamer.Run(c.Request.Context(), w)
	if err == nil || w.Written() {
		// 本文を送り始めた後はステータスを変えられない
		return
	}

	switch {
	case errors.Is(err, camera.ErrBusy):
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.String(http.StatusServiceUnavailable, "stream busy")
	case c.Request.Context().Err() != nil:
		// クライアントが先に切断した
	default:
		abortInternal(c)
	}
}

// Capture は JPEG スナップショットエンドポイントの実装
func (h *Handler) Capture(c *gin.Context) {
	w := stream.NewHTTPWriter(c.Writer)
	if _, err := h.app.Snapshotter.CaptureJPEG(c.Request.Context(), w); err != nil && !w.Written() {
		abortInternal(c)
	}
}

// BMP はビットマップスナップショットエンドポイントの実装
func (h *Handler) BMP(c *gin.Context) {
	w := stream.NewHTTPWriter(c.Writer)
	if _, err := h.app.Snapshotter.CaptureBMP(c.Request.Context(), w); err != nil && !w.Written() {
		abortInternal(c)
	}
}

// Control はパラメータ設定エンドポイントの実装
func (h *Handler) Control(c *gin.Context) {
	name := c.Query("var")
	if name == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	values, ok := requireInts(c, "val")
	if !ok {
		return
	}

	if err := h.app.Dispatcher.Apply(name, values[0]); err != nil {
		h.logger.Warn("制御コマンドに失敗", zap.String("var", name), zap.Error(err))
		abortInternal(c)
		return
	}
	c.Status(http.StatusOK)
}

// Status はセンサー状態エンドポイントの実装
// Accept: application/cbor または ?format=cbor で CBOR を返す
func (h *Handler) Status(c *gin.Context) {
	st := h.app.Dispatcher.Snapshot()

	if wantsCBOR(c) {
		body, err := cbor.Marshal(st)
		if err != nil {
			h.logger.Error("ステータスのエンコードに失敗", zap.Error(err))
			abortInternal(c)
			return
		}
		c.Data(http.StatusOK, "application/cbor", body)
		return
	}
	c.JSON(http.StatusOK, st)
}

func wantsCBOR(c *gin.Context) bool {
	if c.Query("format") == "cbor" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/cbor")
}

// XCLK は入力クロック設定エンドポイントの実装
func (h *Handler) XCLK(c *gin.Context) {
	values, ok := requireInts(c, "xclk")
	if !ok {
		return
	}
	h.result(c, h.app.Dispatcher.SetClock(values[0]))
}

// SetRegister はレジスタ書き込みエンドポイントの実装
func (h *Handler) SetRegister(c *gin.Context) {
	values, ok := requireInts(c, "reg", "mask", "val")
	if !ok {
		return
	}
	h.result(c, h.app.Dispatcher.WriteRegister(values[0], values[1], values[2]))
}

// GetRegister はレジスタ読み出しエンドポイントの実装。本文は10進数の値
func (h *Handler) GetRegister(c *gin.Context) {
	values, ok := requireInts(c, "reg", "mask")
	if !ok {
		return
	}
	v, err := h.app.Dispatcher.ReadRegister(values[0], values[1])
	if err != nil {
		h.logger.Warn("レジスタの読み出しに失敗", zap.Error(err))
		abortInternal(c)
		return
	}
	c.String(http.StatusOK, strconv.Itoa(v))
}

// PLL はクロック生成回路設定エンドポイントの実装
func (h *Handler) PLL(c *gin.Context) {
	v, ok := optionalInts(c, "bypass", "mul", "sys", "root", "pre", "seld5", "pclken", "pclk")
	if !ok {
		return
	}
	h.result(c, h.app.Dispatcher.SetPLL(sensor.PLL{
		Bypass: v[0],
		Mul:    v[1],
		Sys:    v[2],
		Root:   v[3],
		Pre:    v[4],
		SelD5:  v[5],
		PCLKEn: v[6],
		PCLK:   v[7],
	}))
}

// Resolution は切り出しウィンドウ設定エンドポイントの実装
func (h *Handler) Resolution(c *gin.Context) {
	v, ok := optionalInts(c, "sx", "sy", "ex", "ey", "offx", "offy", "tx", "ty", "ox", "oy", "scale", "binning")
	if !ok {
		return
	}
	h.result(c, h.app.Dispatcher.SetWindow(sensor.Window{
		StartX:  v[0],
		StartY:  v[1],
		EndX:    v[2],
		EndY:    v[3],
		OffsetX: v[4],
		OffsetY: v[5],
		TotalX:  v[6],
		TotalY:  v[7],
		OutputX: v[8],
		OutputY: v[9],
		Scale:   v[10] == 1,
		Binning: v[11] == 1,
	}))
}

// GetSettings は保存済みの設定を返す
func (h *Handler) GetSettings(c *gin.Context) {
	values, err := h.app.Settings.Load()
	if err != nil {
		h.logger.Error("設定の読み込みに失敗", zap.Error(err))
		abortInternal(c)
		return
	}
	c.JSON(http.StatusOK, values)
}

// PostSettings は設定を保存し、既知のパラメータをセンサーに適用する
func (h *Handler) PostSettings(c *gin.Context) {
	values, err := h.app.Settings.Decode(c.Request.Body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrTooLarge) || errors.Is(err, settings.ErrInvalid) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"status": "error", "error": err.Error()})
		return
	}

	if err := h.app.Settings.Save(values); err != nil {
		h.logger.Error("設定の保存に失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	applied, err := h.app.Dispatcher.ApplyAll(values)
	if err != nil {
		h.logger.Warn("一部の設定を適用できませんでした", zap.Error(err))
	}
	if applied == nil {
		applied = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "applied": applied})
}

// WebSocket はテレメトリ配信エンドポイントの実装
func (h *Handler) WebSocket(c *gin.Context) {
	if h.app.Hub == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	h.app.Hub.ServeWS(c.Writer, c.Request)
}

// result は成功なら空の 200、失敗なら 500 を返す
func (h *Handler) result(c *gin.Context, err error) {
	if err != nil {
		h.logger.Warn("コマンドに失敗", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abortInternal(c)
		return
	}
	c.Status(http.StatusOK)
}

// abortInternal は途中で設定されたヘッダーを捨てて 500 を返す
func abortInternal(c *gin.Context) {
	header := c.Writer.Header()
	header.Del("Content-Type")
	header.Del("Content-Disposition")
	header.Del("X-Timestamp")
	c.AbortWithStatus(http.StatusInternalServerError)
}

// requireInts は必須の整数クエリを読む。欠けているか数値でなければ 404 で中断する
func requireInts(c *gin.Context, names ...string) ([]int, bool) {
	values := make([]int, len(names))
	for i, name := range names {
		raw, ok := c.GetQuery(name)
		if !ok {
			c.AbortWithStatus(http.StatusNotFound)
			return nil, false
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// optionalInts は省略時 0 の整数クエリを読む
// クエリ文字列自体がないか、数値でない値があれば 404 で中断する
func optionalInts(c *gin.Context, names ...string) ([]int, bool) {
	if c.Request.URL.RawQuery == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return nil, false
	}
	values := make([]int, len(names))
	for i, name := range names {
		raw, ok := c.GetQuery(name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return nil, false
		}
		values[i] = v
	}
	return values, true
}
