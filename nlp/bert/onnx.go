package bert

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// LanguageModel 上下文语言模型
type LanguageModel interface {
	// Forward 返回 [len(ids), hidden] 行优先的特征矩阵
	Forward(ctx context.Context, ids []int64) (feats []float32, hidden int, err error)
	Close() error
}

// OnnxModel chinese-roberta-wwm-ext-large 的 ONNX 导出模型
type OnnxModel struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
}

// NewOnnxModel 加载 BERT 模型，输入名从模型中读取
func NewOnnxModel(modelPath string, opts *ort.SessionOptions) (*OnnxModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("读取 BERT 模型信息失败: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("BERT 模型没有输出")
	}
	names := make([]string, len(inputs))
	for i, in := range inputs {
		switch in.Name {
		case "input_ids", "token_type_ids", "token_type_id", "segment_ids", "attention_mask", "attention_masks":
		default:
			return nil, fmt.Errorf("未知的 BERT 输入: %s", in.Name)
		}
		names[i] = in.Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, names, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("创建 BERT 会话失败: %w", err)
	}
	return &OnnxModel{session: session, inputNames: names}, nil
}

// Forward 推理
func (m *OnnxModel) Forward(ctx context.Context, ids []int64) ([]float32, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	seqLen := int64(len(ids))
	shape := ort.NewShape(1, seqLen)

	typeIDs := make([]int64, seqLen)
	mask := make([]int64, seqLen)
	for i := range mask {
		mask[i] = 1
	}

	values := make([]ort.Value, len(m.inputNames))
	for i, name := range m.inputNames {
		var data []int64
		switch name {
		case "input_ids":
			data = ids
		case "attention_mask", "attention_masks":
			data = mask
		default:
			data = typeIDs
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, 0, fmt.Errorf("创建 %s tensor 失败: %w", name, err)
		}
		defer t.Destroy()
		values[i] = t
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(values, outputs); err != nil {
		return nil, 0, fmt.Errorf("BERT 推理失败: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, fmt.Errorf("BERT 输出类型不是 float32")
	}
	dims := out.GetShape()
	var hidden int64
	switch len(dims) {
	case 3:
		hidden = dims[2]
	case 2:
		hidden = dims[1]
	default:
		return nil, 0, fmt.Errorf("BERT 输出维度异常: %v", dims)
	}
	data := out.GetData()
	if int64(len(data)) != seqLen*hidden {
		return nil, 0, fmt.Errorf("BERT 输出大小 %d 与 %dx%d 不一致", len(data), seqLen, hidden)
	}
	feats := make([]float32, len(data))
	copy(feats, data)
	return feats, int(hidden), nil
}

// Close 释放会话
func (m *OnnxModel) Close() error {
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
