package sbv2

import (
	"strings"

	"github.com/getcharzp/sbv2-speech/ttserr"
)

// StyleBlend 两个风格的线性混合
type StyleBlend struct {
	A     string
	B     string
	Ratio float32
}

// Request 一次合成请求，校验通过后不再修改
type Request struct {
	Text         string
	Speaker      string      // 为空使用编号最小的说话人
	Style        string      // 为空使用缺省风格
	Blend        *StyleBlend // 非空时忽略 Style
	StyleWeight  float32
	SDPRatio     float32
	Noise        float32
	NoiseW       float32
	LengthScale  float32 // 1/speed
	AssistText   string
	AssistWeight float32
}

// NewRequest 使用引擎默认参数构造请求
func (c Config) NewRequest(text string) *Request {
	return &Request{
		Text:         text,
		Speaker:      c.DefaultSpeaker,
		Style:        c.DefaultStyle,
		StyleWeight:  c.StyleWeight,
		SDPRatio:     c.SDPRatio,
		Noise:        c.Noise,
		NoiseW:       c.NoiseW,
		LengthScale:  DefaultLengthScale,
		AssistWeight: DefaultAssistWeight,
	}
}

// SetSpeed 按语速设置 length_scale，数值越大越快
func (r *Request) SetSpeed(speed float32) error {
	if speed <= 0 {
		return ttserr.New(ttserr.InvalidInput, "sbv2.SetSpeed", "speed 必须大于 0: %g", speed)
	}
	r.LengthScale = 1 / speed
	return nil
}

// Validate 校验参数，sdp_ratio 截断到 [0,1]，noise 截断到非负
func (r *Request) Validate() error {
	const op = "sbv2.Validate"
	if strings.TrimSpace(r.Text) == "" {
		return ttserr.New(ttserr.InvalidInput, op, "输入文本不能为空")
	}
	if r.StyleWeight < 0 || r.StyleWeight > 1 {
		return ttserr.New(ttserr.InvalidInput, op, "style_weight 必须在 [0, 1] 内: %g", r.StyleWeight)
	}
	if r.AssistWeight < 0 || r.AssistWeight > 1 {
		return ttserr.New(ttserr.InvalidInput, op, "assist_text_weight 必须在 [0, 1] 内: %g", r.AssistWeight)
	}
	if r.LengthScale <= 0 {
		return ttserr.New(ttserr.InvalidInput, op, "length_scale 必须大于 0: %g", r.LengthScale)
	}
	r.SDPRatio = min(max(r.SDPRatio, 0), 1)
	r.Noise = max(r.Noise, 0)
	r.NoiseW = max(r.NoiseW, 0)
	return nil
}

// Inputs 合成模型的一次输入，张量均为 batch=1
type Inputs struct {
	Phones    []int64
	Tones     []int64
	Langs     []int64
	SpeakerID int64

	Bert   []float32 // [Hidden, N]，按行存放
	Hidden int

	Style     []float32 // [StyleRows, len/StyleRows]
	StyleRows int

	LengthScale float32
	SDPRatio    float32
	Noise       float32
	NoiseW      float32
}

// Len 音素数
func (in *Inputs) Len() int { return len(in.Phones) }

// StyleDim 风格向量维度
func (in *Inputs) StyleDim() int {
	if in.StyleRows <= 0 {
		return 0
	}
	return len(in.Style) / in.StyleRows
}
