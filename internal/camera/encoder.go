package camera

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"

	"golang.org/x/image/bmp"

	"mangoire/internal/sensor"
)

// Codec はフレームを静止画フォーマットに変換する外部エンコーダ
type Codec interface {
	// EncodeJPEG はフレームを JPEG で w に書き出す
	// quality はセンサー規約 (0-63, 小さいほど高画質)
	EncodeJPEG(w io.Writer, fb *sensor.FrameBuffer, quality int) error
	// EncodeBMP はフレームを非圧縮ビットマップで w に書き出す
	EncodeBMP(w io.Writer, fb *sensor.FrameBuffer) error
}

// StdCodec は image/jpeg と golang.org/x/image/bmp による Codec
type StdCodec struct{}

// EncodeJPEG はフレームをデコードして JPEG に再エンコードする
func (StdCodec) EncodeJPEG(w io.Writer, fb *sensor.FrameBuffer, quality int) error {
	img, err := sensor.DecodeImage(fb)
	if err != nil {
		return err
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: sensor.JPEGQuality(quality)})
}

// EncodeBMP はフレームをデコードして BMP に書き出す
func (StdCodec) EncodeBMP(w io.Writer, fb *sensor.FrameBuffer) error {
	img, err := sensor.DecodeImage(fb)
	if err != nil {
		return err
	}
	return bmp.Encode(w, img)
}

// Encoder はフレームを送信用フォーマットに揃える
type Encoder struct {
	codec Codec
}

// NewEncoder は新しいEncoderを作成する。codec が nil なら StdCodec を使う
func NewEncoder(codec Codec) *Encoder {
	if codec == nil {
		codec = StdCodec{}
	}
	return &Encoder{codec: codec}
}

// EnsureJPEG はフレームを JPEG バイト列として返す
//
// フレームが既に JPEG なら fb.Buf をそのまま返し converted は false。
// それ以外は buf に変換して buf.Bytes() を返す。この場合、戻り値は
// buf が次に Reset されるまで有効で、フレーム自体はもう不要になる。
func (e *Encoder) EnsureJPEG(fb *sensor.FrameBuffer, quality int, buf *bytes.Buffer) (out []byte, converted bool, err error) {
	if fb.Format == sensor.PixFormatJPEG {
		return fb.Buf, false, nil
	}

	buf.Reset()
	if err := e.codec.EncodeJPEG(buf, fb, quality); err != nil {
		return nil, false, fmt.Errorf("%w: %s から JPEG: %w", ErrConversion, fb.Format, err)
	}
	return buf.Bytes(), true, nil
}

// EncodeJPEGTo は JPEG を w に直接書き出す
// エンコーダが生成したチャンクは順に w へ渡され、全体を一括で確保しない
func (e *Encoder) EncodeJPEGTo(w io.Writer, fb *sensor.FrameBuffer, quality int) error {
	if fb.Format == sensor.PixFormatJPEG {
		if _, err := w.Write(fb.Buf); err != nil {
			return err
		}
		return nil
	}

	if err := e.codec.EncodeJPEG(w, fb, quality); err != nil {
		return fmt.Errorf("%w: %s から JPEG: %w", ErrConversion, fb.Format, err)
	}
	return nil
}

// EncodeBMP はフレームを BMP に変換して buf に書き出す
func (e *Encoder) EncodeBMP(fb *sensor.FrameBuffer, buf *bytes.Buffer) ([]byte, error) {
	buf.Reset()
	if err := e.codec.EncodeBMP(buf, fb); err != nil {
		return nil, fmt.Errorf("%w: %s から BMP: %w", ErrConversion, fb.Format, err)
	}
	return buf.Bytes(), nil
}
