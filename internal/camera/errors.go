package camera

import "errors"

var (
	// ErrCapture はセンサーからフレームを取得できなかったことを表す
	ErrCapture = errors.New("キャプチャに失敗しました")
	// ErrConversion は画像の変換に失敗したことを表す
	ErrConversion = errors.New("画像の変換に失敗しました")
	// ErrBusy はデバイスが別のストリームに占有されていることを表す
	ErrBusy = errors.New("デバイスは別のストリームで使用中です")
)
