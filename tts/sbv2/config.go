package sbv2

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/getcharzp/sbv2-speech"
)

const (
	// DefaultSampleRate 采样率，config.json 未指定时使用
	DefaultSampleRate = 44100

	DefaultSDPRatio     = 0.2
	DefaultNoise        = 0.6
	DefaultNoiseW       = 0.8
	DefaultLengthScale  = 1.0
	DefaultStyleWeight  = 1.0
	DefaultAssistWeight = 1.0

	// DefaultPeak 输出波形峰值归一化目标
	DefaultPeak = 0.97
)

// Config 定义 Style-Bert-VITS2 引擎的配置参数
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	ModelPath          string // 合成模型 ONNX 路径
	ConfigPath         string // config.json 路径
	StyleVectorsPath   string // style_vectors.npy 路径
	BertModelPath      string // 中文 BERT ONNX 路径
	BertVocabPath      string // BERT vocab.txt 路径

	// 可选参数
	DictPath       string            // (可选) 追加词典
	Providers      []speech.Provider // (可选) 执行后端优先级
	DeviceID       int               // (可选) GPU 编号
	NumThreads     int               // (可选) 单会话 ONNX 线程数
	PoolSize       int               // (可选) 会话数量, 默认为 CPU 核数
	PoolWait       time.Duration     // (可选) 借出会话的最长等待
	InferTimeout   time.Duration     // (可选) 自借出起算的推理超时
	MaxSeqLen      int               // (可选) BERT 最大 token 数
	Strict         bool              // (可选) 无法注音时报错而不是占位
	BroadcastStyle bool              // (可选) 风格向量按音素展开为 [N, D]
	DefaultStyle   string            // (可选) 缺省风格
	DefaultSpeaker string            // (可选) 缺省说话人, 为空取编号最小者
	Peak           float32           // (可选) 峰值归一化目标, 0 使用默认值, 负数关闭

	SDPRatio    float32
	Noise       float32
	NoiseW      float32
	StyleWeight float32
}

// DefaultConfig 返回一套默认的配置 (基于常见的目录结构)
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: speech.DefaultLibraryPath(),
		ModelPath:          "./sbv2_weights/model.onnx",
		ConfigPath:         "./sbv2_weights/config.json",
		StyleVectorsPath:   "./sbv2_weights/style_vectors.npy",
		BertModelPath:      "./sbv2_weights/chinese-roberta-wwm-ext-large-onnx/model_fp16.onnx",
		BertVocabPath:      "./sbv2_weights/chinese-roberta-wwm-ext-large-onnx/vocab.txt",
		Providers:          speech.DefaultProviders,
		PoolSize:           runtime.NumCPU(),
		PoolWait:           5 * time.Second,
		InferTimeout:       60 * time.Second,
		MaxSeqLen:          512,
		DefaultStyle:       "Neutral",
		Peak:               DefaultPeak,
		SDPRatio:           DefaultSDPRatio,
		Noise:              DefaultNoise,
		NoiseW:             DefaultNoiseW,
		StyleWeight:        DefaultStyleWeight,
	}
}

// HyperParameters 模型目录下 config.json 中用到的部分
type HyperParameters struct {
	ModelName string `json:"model_name"`
	Version   string `json:"version"`
	Data      struct {
		UseJPExtra   bool           `json:"use_jp_extra"`
		SamplingRate int            `json:"sampling_rate"`
		AddBlank     bool           `json:"add_blank"`
		Spk2ID       map[string]int `json:"spk2id"`
		NumStyles    int            `json:"num_styles"`
		Style2ID     map[string]int `json:"style2id"`
	} `json:"data"`
}

// LoadHyperParameters 读取 config.json
func LoadHyperParameters(path string) (*HyperParameters, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	return ParseHyperParameters(b)
}

// ParseHyperParameters 解析 config.json 内容并补齐缺省值
func ParseHyperParameters(b []byte) (*HyperParameters, error) {
	hp := new(HyperParameters)
	hp.Data.SamplingRate = DefaultSampleRate
	hp.Data.AddBlank = true
	if err := json.Unmarshal(b, hp); err != nil {
		return nil, fmt.Errorf("解析模型配置失败: %w", err)
	}
	if hp.Data.SamplingRate <= 0 {
		return nil, fmt.Errorf("采样率非法: %d", hp.Data.SamplingRate)
	}
	if hp.Data.NumStyles == 0 {
		hp.Data.NumStyles = max(len(hp.Data.Style2ID), 1)
	}
	if len(hp.Data.Spk2ID) == 0 {
		hp.Data.Spk2ID = map[string]int{"default": 0}
	}
	return hp, nil
}

// Speakers 按编号排序的说话人
func (hp *HyperParameters) Speakers() []string {
	names := make([]string, 0, len(hp.Data.Spk2ID))
	for name := range hp.Data.Spk2ID {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := hp.Data.Spk2ID[names[i]], hp.Data.Spk2ID[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// SpeakerID 说话人编号，name 为空时返回编号最小的说话人
func (hp *HyperParameters) SpeakerID(name string) (int, bool) {
	if name == "" {
		return hp.Data.Spk2ID[hp.Speakers()[0]], true
	}
	id, ok := hp.Data.Spk2ID[name]
	return id, ok
}
