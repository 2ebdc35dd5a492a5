// Package sensor はイメージセンサードライバの抽象を提供する
//
// # 責務
// - センサードライバの契約 (Driver) の定義
// - フレームバッファ (FrameBuffer) とピクセルフォーマット・フレームサイズの定義
// - テストパターンを生成する Simulator ドライバ
// - ffmpeg / v4l2-ctl 経由で V4L2 デバイスを扱う V4L2Driver
// - /dev/video* デバイスの検出
// - sysfs LED による補助照明出力
//
// # 仕様
// - Driver はスレッドセーフである必要はない。呼び出しの直列化は camera.Device が担う
// - GetFrame で得たフレームは ReturnFrame で必ず1回だけ返却する
// - 各 Set* は不正値に対して ErrInvalidValue、未対応パラメータに対して ErrUnsupported を返す
//
// # 前提要件
//   - V4L2Driver: ffmpeg と v4l2-utils がインストールされていること
package sensor
