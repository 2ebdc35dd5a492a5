// Package stream カメラ画像を HTTP クライアントへ送り出す
//
// # 責務
// - multipart/x-mixed-replace による連続配信 (Streamer)
// - JPEG / BMP の単発撮影 (Snapshotter)
//
// # 仕様
// 1フレームは境界・パートヘッダー・本文の3チャンクで送る。
// パートヘッダーには Content-Length と X-Timestamp (秒.マイクロ秒) を含む。
// チャンクの送信に失敗したらクライアント切断とみなしてループを抜け、
// 照明を消してセッションを解放する。
package stream
