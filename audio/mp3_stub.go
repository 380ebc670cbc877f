//go:build !lame

package audio

import "github.com/getcharzp/sbv2-speech/ttserr"

// MP3Available 当前构建是否包含 MP3 编码
const MP3Available = false

func encodeMP3([]float32, int) ([]byte, error) {
	return nil, ttserr.New(ttserr.EncodingUnavailable, "audio.Encode", "当前构建不支持 MP3 编码，请使用 -tags lame 重新编译")
}
