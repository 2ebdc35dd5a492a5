// Package control センサーパラメータの制御とステータス取得を担う
//
// 制御コマンドは (名前, 整数値) の組で、宣言的な対応表からドライバの
// セッターを引いて適用する。表にない名前はドライバに触れずに失敗する。
//
// framesize は出力フォーマットが JPEG の場合にのみ適用され、それ以外では
// 何もせずに成功を返す。
package control
