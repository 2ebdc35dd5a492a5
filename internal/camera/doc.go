// Package camera センサーデバイスを共有リソースとして扱う
//
// # 責務
// - ドライバ呼び出しの直列化 (Device)
// - フレームバッファの貸し出しと確実な返却 (Lease)
// - ストリーム接続によるデバイス占有 (Session)
// - 送信フォーマットへの変換 (Encoder, Codec)
// - 補助照明とキャプチャの同期 (Flash)
//
// # 使い分け
// HTTP ハンドラやストリーマはドライバを直接触らず、必ず Device を経由する。
// Acquire で得た Lease は defer で Release すること。Release は冪等なので、
// 早期に返却した後に defer が再度呼んでも二重返却にはならない。
//
// # 前提要件
//   - v4l2 ドライバを使う場合は ffmpeg と v4l-utils が必要
//     Ubuntu/Debian: sudo apt install ffmpeg v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
