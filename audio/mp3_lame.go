//go:build lame

package audio

import (
	"bytes"
	"fmt"

	"github.com/getcharzp/sbv2-speech/ttserr"
	lame "github.com/viert/go-lame"
)

// MP3Available 当前构建是否包含 MP3 编码
const MP3Available = true

// mp3Quality LAME 质量档位，0 最好 9 最快
const mp3Quality = 2

func encodeMP3(samples []float32, sampleRate int) ([]byte, error) {
	const op = "audio.Encode"
	if err := checkMP3Rate(sampleRate); err != nil {
		return nil, ttserr.Wrap(ttserr.InvalidInput, op, err)
	}
	pcm, err := pcm16(samples)
	if err != nil {
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}

	var out bytes.Buffer
	enc := lame.NewEncoder(&out)
	if err := enc.SetNumChannels(numChannels); err != nil {
		enc.Close()
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}
	if err := enc.SetInSamplerate(sampleRate); err != nil {
		enc.Close()
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}
	if err := enc.SetQuality(mp3Quality); err != nil {
		enc.Close()
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}
	if _, err := enc.Write(pcm); err != nil {
		enc.Close()
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}
	enc.Close()
	return out.Bytes(), nil
}

func checkMP3Rate(sampleRate int) error {
	switch sampleRate {
	case 8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000:
		return nil
	}
	return fmt.Errorf("MP3 不支持采样率 %d", sampleRate)
}
