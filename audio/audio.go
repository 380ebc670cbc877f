// Package audio 把浮点波形编码为可下发的音频容器
package audio

import (
	"math"
	"strings"

	"github.com/getcharzp/sbv2-speech/ttserr"
)

// Format 音频容器
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// ParseFormat 解析容器名，空字符串为 wav
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatWAV, nil
	case FormatWAV, FormatMP3:
		return f, nil
	}
	return "", ttserr.New(ttserr.InvalidInput, "audio.ParseFormat", "不支持的音频格式: %s", s)
}

// MIME 容器对应的 Content-Type
func (f Format) MIME() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "audio/wav"
	}
}

// Encoded 编码后的音频
type Encoded struct {
	Data []byte
	MIME string
}

// Encode 编码单声道波形，samples 取值应在 [-1, 1]
func Encode(samples []float32, sampleRate int, format Format) (*Encoded, error) {
	const op = "audio.Encode"
	if sampleRate <= 0 {
		return nil, ttserr.New(ttserr.InferenceError, op, "采样率非法: %d", sampleRate)
	}
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatWAV, "":
		if data, err = EncodeWAV(samples, sampleRate); err != nil {
			err = ttserr.Wrap(ttserr.InferenceError, op, err)
		}
	case FormatMP3:
		data, err = encodeMP3(samples, sampleRate)
	default:
		return nil, ttserr.New(ttserr.InvalidInput, op, "不支持的音频格式: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return &Encoded{Data: data, MIME: format.MIME()}, nil
}

// NormalizePeak 把峰值缩放到 target，静音不处理
func NormalizePeak(samples []float32, target float32) {
	var peak float32
	for _, s := range samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	if peak == 0 || math.IsNaN(float64(peak)) || math.IsInf(float64(peak), 0) {
		return
	}
	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}
}

// Duration 样本数对应的时长 (秒)
func Duration(numSamples, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(numSamples) / float64(sampleRate)
}
