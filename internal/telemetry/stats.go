package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// FrameStats は1フレーム送信ごとの計測値
type FrameStats struct {
	Session       string    `json:"session"`
	Sequence      uint64    `json:"seq"`
	Bytes         int       `json:"bytes"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FrameMillis   int64     `json:"frame_ms"`
	FPS           float64   `json:"fps"`
	AverageMillis int       `json:"avg_ms"`
	AverageFPS    float64   `json:"avg_fps"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink は計測値の受け取り先
// Observe はストリームループから呼ばれるためブロックしてはならない
type Sink interface {
	Observe(st FrameStats)
}

// Sinks は複数の Sink に同じ計測値を配る
type Sinks []Sink

// Observe はすべての Sink に計測値を渡す
func (s Sinks) Observe(st FrameStats) {
	for _, sink := range s {
		if sink != nil {
			sink.Observe(st)
		}
	}
}

// Meter はフレーム間隔から FrameStats を組み立てる
type Meter struct {
	session  string
	filter   *RollingAverage
	last     time.Time
	sequence uint64
}

// NewMeter は新しい Meter を作成する。samples は移動平均のサンプル数
func NewMeter(session string, samples int, start time.Time) *Meter {
	return &Meter{
		session: session,
		filter:  NewRollingAverage(samples),
		last:    start,
	}
}

// Record は1フレーム分の送信を記録する
func (m *Meter) Record(now time.Time, bytes, width, height int) FrameStats {
	frame := now.Sub(m.last).Milliseconds()
	m.last = now
	m.sequence++
	avg := m.filter.Push(int(frame))

	return FrameStats{
		Session:       m.session,
		Sequence:      m.sequence,
		Bytes:         bytes,
		Width:         width,
		Height:        height,
		FrameMillis:   frame,
		FPS:           perSecond(frame),
		AverageMillis: avg,
		AverageFPS:    perSecond(int64(avg)),
		Timestamp:     now,
	}
}

func perSecond(ms int64) float64 {
	if ms <= 0 {
		return 0
	}
	return 1000.0 / float64(ms)
}

// LogSink は計測値を Debug レベルでログに出す
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink は新しいLogSinkを作成する
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Observe は計測値をログに出す
func (l *LogSink) Observe(st FrameStats) {
	l.logger.Debug("MJPEGフレーム送信",
		zap.String("session", st.Session),
		zap.Int("bytes", st.Bytes),
		zap.Int64("frame_ms", st.FrameMillis),
		zap.Float64("fps", st.FPS),
		zap.Int("avg_ms", st.AverageMillis),
		zap.Float64("avg_fps", st.AverageFPS))
}
