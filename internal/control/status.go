package control

import (
	"mangoire/internal/sensor"
)

// Status はセンサーの全パラメータのスナップショット
// フィールドの宣言順がそのまま JSON / CBOR の出力順になる
type Status struct {
	XCLK          int `json:"xclk" cbor:"xclk"`
	PixFormat     int `json:"pixformat" cbor:"pixformat"`
	FrameSize     int `json:"framesize" cbor:"framesize"`
	Quality       int `json:"quality" cbor:"quality"`
	Brightness    int `json:"brightness" cbor:"brightness"`
	Contrast      int `json:"contrast" cbor:"contrast"`
	Saturation    int `json:"saturation" cbor:"saturation"`
	Sharpness     int `json:"sharpness" cbor:"sharpness"`
	SpecialEffect int `json:"special_effect" cbor:"special_effect"`
	WBMode        int `json:"wb_mode" cbor:"wb_mode"`
	AWB           int `json:"awb" cbor:"awb"`
	AWBGain       int `json:"awb_gain" cbor:"awb_gain"`
	AEC           int `json:"aec" cbor:"aec"`
	AEC2          int `json:"aec2" cbor:"aec2"`
	AELevel       int `json:"ae_level" cbor:"ae_level"`
	AECValue      int `json:"aec_value" cbor:"aec_value"`
	AGC           int `json:"agc" cbor:"agc"`
	AGCGain       int `json:"agc_gain" cbor:"agc_gain"`
	GainCeiling   int `json:"gainceiling" cbor:"gainceiling"`
	BPC           int `json:"bpc" cbor:"bpc"`
	WPC           int `json:"wpc" cbor:"wpc"`
	RawGMA        int `json:"raw_gma" cbor:"raw_gma"`
	LenC          int `json:"lenc" cbor:"lenc"`
	HMirror       int `json:"hmirror" cbor:"hmirror"`
	VFlip         int `json:"vflip" cbor:"vflip"`
	DCW           int `json:"dcw" cbor:"dcw"`
	Colorbar      int `json:"colorbar" cbor:"colorbar"`
	LEDIntensity  int `json:"led_intensity" cbor:"led_intensity"`
}

// Snapshot はドライバから現在値を読み出す。照明がなければ led_intensity は -1
func (d *Dispatcher) Snapshot() Status {
	var (
		st     sensor.Status
		xclk   int
		format sensor.PixFormat
	)
	_ = d.device.Do(func(drv sensor.Driver) error {
		st = drv.Status()
		xclk = drv.XCLK()
		format = drv.PixFormat()
		return nil
	})

	return Status{
		XCLK:          xclk,
		PixFormat:     int(format),
		FrameSize:     int(st.FrameSize),
		Quality:       st.Quality,
		Brightness:    st.Brightness,
		Contrast:      st.Contrast,
		Saturation:    st.Saturation,
		Sharpness:     st.Sharpness,
		SpecialEffect: st.SpecialEffect,
		WBMode:        st.WBMode,
		AWB:           st.AWB,
		AWBGain:       st.AWBGain,
		AEC:           st.AEC,
		AEC2:          st.AEC2,
		AELevel:       st.AELevel,
		AECValue:      st.AECValue,
		AGC:           st.AGC,
		AGCGain:       st.AGCGain,
		GainCeiling:   st.GainCeiling,
		BPC:           st.BPC,
		WPC:           st.WPC,
		RawGMA:        st.RawGMA,
		LenC:          st.LenC,
		HMirror:       st.HMirror,
		VFlip:         st.VFlip,
		DCW:           st.DCW,
		Colorbar:      st.Colorbar,
		LEDIntensity:  d.flash.Intensity(),
	}
}
