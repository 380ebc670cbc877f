package sbv2

import (
	"fmt"

	"github.com/getcharzp/sbv2-speech"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
)

// modelInputs 合成模型输入的固定顺序，实际名称以模型文件为准
var modelInputs = []string{
	"x_tst", "x_tst_lengths", "sid", "tones", "language", "bert", "ja_bert", "en_bert",
	"style_vec", "length_scale", "sdp_ratio", "noise_scale", "noise_scale_w",
}

// OnnxFactory 从同一个模型文件创建 ONNX 会话
type OnnxFactory struct {
	cfg         Config
	inputNames  []string
	outputNames []string
}

// NewOnnxFactory 读取模型的输入输出名称
func NewOnnxFactory(cfg Config) (*OnnxFactory, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("模型文件路径不能为空")
	}
	if err := speech.InitEnvironment(cfg.OnnxRuntimeLibPath); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("读取模型输入输出失败: %w", err)
	}
	if len(inputs) != len(modelInputs) {
		return nil, fmt.Errorf("模型输入个数为 %d，期望 %d", len(inputs), len(modelInputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("模型没有输出")
	}
	f := &OnnxFactory{cfg: cfg}
	for _, info := range inputs {
		f.inputNames = append(f.inputNames, info.Name)
	}
	f.outputNames = []string{outputs[0].Name}
	return f, nil
}

// Open 使用指定后端创建会话
func (f *OnnxFactory) Open(p speech.Provider) (Session, error) {
	onnxConfig := new(speech.OnnxConfig)
	if err := convertutil.CopyProperties(f.cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	onnxConfig.Provider = p
	if err := onnxConfig.New(); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(f.cfg.ModelPath, f.inputNames, f.outputNames, onnxConfig.SessionOptions)
	if err != nil {
		_ = onnxConfig.Destroy()
		return nil, fmt.Errorf("创建 ONNX 会话失败: %w", err)
	}
	return &onnxSession{session: session, onnxConfig: onnxConfig}, nil
}

type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	onnxConfig *speech.OnnxConfig
}

// Run 推理，输出为一维波形
func (s *onnxSession) Run(in *Inputs) ([]float32, error) {
	n := int64(in.Len())
	var values []ort.Value
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	add := func(v ort.Value, err error) error {
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	}

	zeros := make([]float32, len(in.Bert))
	bertShape := ort.NewShape(1, int64(in.Hidden), n)
	styleShape := ort.NewShape(int64(in.StyleRows), int64(in.StyleDim()))
	steps := []struct {
		name string
		fn   func() (ort.Value, error)
	}{
		{"x_tst", func() (ort.Value, error) { return ort.NewTensor(ort.NewShape(1, n), in.Phones) }},
		{"x_tst_lengths", func() (ort.Value, error) { return ort.NewTensor(ort.NewShape(1), []int64{n}) }},
		{"sid", func() (ort.Value, error) { return ort.NewTensor(ort.NewShape(1), []int64{in.SpeakerID}) }},
		{"tones", func() (ort.Value, error) { return ort.NewTensor(ort.NewShape(1, n), in.Tones) }},
		{"language", func() (ort.Value, error) { return ort.NewTensor(ort.NewShape(1, n), in.Langs) }},
		{"bert", func() (ort.Value, error) { return ort.NewTensor(bertShape, in.Bert) }},
		{"ja_bert", func() (ort.Value, error) { return ort.NewTensor(bertShape, zeros) }},
		{"en_bert", func() (ort.Value, error) { return ort.NewTensor(bertShape, zeros) }},
		{"style_vec", func() (ort.Value, error) { return ort.NewTensor(styleShape, in.Style) }},
		{"length_scale", func() (ort.Value, error) { return ort.NewScalar(in.LengthScale) }},
		{"sdp_ratio", func() (ort.Value, error) { return ort.NewScalar(in.SDPRatio) }},
		{"noise_scale", func() (ort.Value, error) { return ort.NewScalar(in.Noise) }},
		{"noise_scale_w", func() (ort.Value, error) { return ort.NewScalar(in.NoiseW) }},
	}
	for _, step := range steps {
		if err := add(step.fn()); err != nil {
			return nil, fmt.Errorf("创建 %s tensor 失败: %w", step.name, err)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("推理运行失败: %w", err)
	}
	defer outputs[0].Destroy()

	resultTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("推理输出类型断言失败，期望 *Tensor[float32]")
	}
	rawData := resultTensor.GetData()
	result := make([]float32, len(rawData))
	copy(result, rawData)
	return result, nil
}

// Close 释放会话和会话参数
func (s *onnxSession) Close() error {
	err := s.session.Destroy()
	if e := s.onnxConfig.Destroy(); err == nil {
		err = e
	}
	return err
}
