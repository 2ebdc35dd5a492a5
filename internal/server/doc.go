// Package server は、HTTPサーバーとセンサー関連コンポーネントの組み立てを担当します。
//
// 責務:
//   - 設定からセンサードライバ・照明・制御・配信コンポーネントを組み立てる
//   - gin によるルーティングとエンドポイントの実装
//   - 起動時の保存済み設定の適用
//   - グレースフルシャットダウン
//
// エンドポイント:
//   - /stream      マルチパート JPEG ストリーム（同時に1本まで、2本目は 503）
//   - /capture     JPEG スナップショット
//   - /bmp         BMP スナップショット
//   - /control     パラメータ設定 (?var=&val=)
//   - /status      センサー状態 (JSON、または CBOR)
//   - /xclk /reg /greg /pll /resolution  センサーの生設定
//   - /api/settings  起動時に適用する設定の取得・保存
//   - /ws          フレーム計測値の WebSocket 配信
//   - /health      ヘルスチェック
//
// クエリの欠落や数値でない値は 404、キャプチャ・変換・制御の失敗は 500 を返す。
package server
