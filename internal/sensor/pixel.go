package sensor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// bytesPerPixel は非圧縮フォーマットの1画素あたりのバイト数
var bytesPerPixel = map[PixFormat]int{
	PixFormatRGB565:    2,
	PixFormatYUV422:    2,
	PixFormatGrayscale: 1,
	PixFormatRGB888:    3,
}

// PackPixels は画像を指定フォーマットの生バイト列に変換する
// RGB565 はビッグエンディアン、RGB888 は R,G,B 順、YUV422 は YUYV 順
func PackPixels(img *image.RGBA, format PixFormat) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch format {
	case PixFormatRGB565:
		out := make([]byte, 0, w*h*2)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := img.RGBAAt(x, y)
				v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
				out = append(out, byte(v>>8), byte(v))
			}
		}
		return out, nil

	case PixFormatRGB888:
		out := make([]byte, 0, w*h*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := img.RGBAAt(x, y)
				out = append(out, c.R, c.G, c.B)
			}
		}
		return out, nil

	case PixFormatGrayscale:
		out := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.GrayModel.Convert(img.RGBAAt(x, y)).(color.Gray)
				out = append(out, g.Y)
			}
		}
		return out, nil

	case PixFormatYUV422:
		if w%2 != 0 {
			return nil, fmt.Errorf("YUV422 には偶数幅が必要です: %d", w)
		}
		out := make([]byte, 0, w*h*2)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x += 2 {
				c0 := img.RGBAAt(x, y)
				c1 := img.RGBAAt(x+1, y)
				y0, cb, cr := color.RGBToYCbCr(c0.R, c0.G, c0.B)
				y1, _, _ := color.RGBToYCbCr(c1.R, c1.G, c1.B)
				out = append(out, y0, cb, y1, cr)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s のパッキング", ErrUnsupported, format)
}

// DecodeImage はフレームバッファを image.Image に変換する
func DecodeImage(fb *FrameBuffer) (image.Image, error) {
	if fb.Format == PixFormatJPEG {
		img, err := jpeg.Decode(bytes.NewReader(fb.Buf))
		if err != nil {
			return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
		}
		return img, nil
	}

	bpp, ok := bytesPerPixel[fb.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s のデコード", ErrUnsupported, fb.Format)
	}
	if fb.Width <= 0 || fb.Height <= 0 || len(fb.Buf) < fb.Width*fb.Height*bpp {
		return nil, fmt.Errorf("フレーム長が不足しています: %dx%d %s, %dB", fb.Width, fb.Height, fb.Format, len(fb.Buf))
	}

	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	buf := fb.Buf
	i := 0
	for y := 0; y < fb.Height; y++ {
		switch fb.Format {
		case PixFormatYUV422:
			for x := 0; x+1 < fb.Width; x += 2 {
				y0, cb, y1, cr := buf[i], buf[i+1], buf[i+2], buf[i+3]
				i += 4
				r, g, b := color.YCbCrToRGB(y0, cb, cr)
				img.SetRGBA(x, y, color.RGBA{r, g, b, 0xff})
				r, g, b = color.YCbCrToRGB(y1, cb, cr)
				img.SetRGBA(x+1, y, color.RGBA{r, g, b, 0xff})
			}
		default:
			for x := 0; x < fb.Width; x++ {
				var c color.RGBA
				switch fb.Format {
				case PixFormatRGB565:
					v := uint16(buf[i])<<8 | uint16(buf[i+1])
					c = color.RGBA{
						R: uint8(v>>11) << 3,
						G: uint8(v>>5&0x3f) << 2,
						B: uint8(v&0x1f) << 3,
						A: 0xff,
					}
				case PixFormatRGB888:
					c = color.RGBA{buf[i], buf[i+1], buf[i+2], 0xff}
				case PixFormatGrayscale:
					c = color.RGBA{buf[i], buf[i], buf[i], 0xff}
				}
				i += bpp
				img.SetRGBA(x, y, c)
			}
		}
	}
	return img, nil
}
