package audio

import (
	"github.com/up-zero/gotool/mediautil"
)

const (
	wavHeaderSize = 44
	numChannels   = 1
	bitsPerSample = 16
)

// EncodeWAV 生成 PCM16 单声道 WAV，头部固定 44 字节
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	return mediautil.Float32ToWavBytes(samples, sampleRate, numChannels, bitsPerSample)
}

// pcm16 截断到 [-1, 1] 后量化为小端 PCM16，NaN 记为 0
func pcm16(samples []float32) ([]byte, error) {
	return mediautil.Float32ToPcmBytes(samples, bitsPerSample)
}
