// Package telemetry ストリーム送信の計測値を集計・配信する
//
// RollingAverage でフレーム間隔を平滑化し、FrameStats を Sink に流す。
// Sink の実装はログ (LogSink)、WebSocket (Hub)、MQTT (Publisher)。
// 計測はストリームの制御フローに影響しない。
package telemetry
