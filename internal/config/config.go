// Package config 服务配置，YAML 文件 + SBV2_ 环境变量
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/internal/telemetry"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"gopkg.in/yaml.v3"
)

// Config 服务总配置
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Model     ModelConfig      `yaml:"model"`
	Text      TextConfig       `yaml:"text"`
	Audio     AudioConfig      `yaml:"audio"`
	Synthesis SynthesisConfig  `yaml:"synthesis"`
	Log       logger.Config    `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // 每秒请求数，0 不限流
	Burst          int           `yaml:"burst"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	MaxInputRunes  int           `yaml:"max_input_runes"`
}

// ModelConfig 模型资源与推理
type ModelConfig struct {
	OnnxRuntimeLib string        `yaml:"onnxruntime_lib"`
	Dir            string        `yaml:"dir"` // 以下相对路径基于该目录
	Model          string        `yaml:"model"`
	HyperParams    string        `yaml:"hyper_params"`
	StyleVectors   string        `yaml:"style_vectors"`
	BertModel      string        `yaml:"bert_model"`
	BertVocab      string        `yaml:"bert_vocab"`
	Providers      []string      `yaml:"providers"`
	DeviceID       int           `yaml:"device_id"`
	PoolSize       int           `yaml:"pool_size"`
	PoolWait       time.Duration `yaml:"pool_wait"`
	InferTimeout   time.Duration `yaml:"infer_timeout"`
	Threads        int           `yaml:"threads"`
	MaxSeqLen      int           `yaml:"max_seq_len"`
	BroadcastStyle bool          `yaml:"broadcast_style"`
}

// TextConfig 文本前端
type TextConfig struct {
	Strict     bool   `yaml:"strict"`
	Dictionary string `yaml:"dictionary"`
}

// AudioConfig 输出音频
type AudioConfig struct {
	Peak float32 `yaml:"peak"` // 负数关闭峰值归一化
}

// SynthesisConfig 合成参数默认值
type SynthesisConfig struct {
	SDPRatio       float32 `yaml:"sdp_ratio"`
	Noise          float32 `yaml:"noise"`
	NoiseW         float32 `yaml:"noise_w"`
	StyleWeight    float32 `yaml:"style_weight"`
	DefaultStyle   string  `yaml:"default_style"`
	DefaultSpeaker string  `yaml:"default_speaker"`
}

// Load 读取 YAML 配置文件，支持 ${VAR_NAME} 形式的环境变量展开
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析配置内容，依次展开环境变量、应用 SBV2_ 覆盖、填充默认值
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	return cfg, cfg.Validate()
}

// Default 返回可直接运行的默认配置
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Server.Burst == 0 && cfg.Server.RateLimit > 0 {
		cfg.Server.Burst = max(int(cfg.Server.RateLimit), 1)
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MaxInputRunes == 0 {
		cfg.Server.MaxInputRunes = 1000
	}

	def := sbv2.DefaultConfig()
	if cfg.Model.OnnxRuntimeLib == "" {
		cfg.Model.OnnxRuntimeLib = speech.DefaultLibraryPath()
	}
	if cfg.Model.Dir == "" {
		cfg.Model.Dir = "./sbv2_weights"
	}
	if cfg.Model.Model == "" {
		cfg.Model.Model = "model.onnx"
	}
	if cfg.Model.HyperParams == "" {
		cfg.Model.HyperParams = "config.json"
	}
	if cfg.Model.StyleVectors == "" {
		cfg.Model.StyleVectors = "style_vectors.npy"
	}
	if cfg.Model.BertModel == "" {
		cfg.Model.BertModel = "chinese-roberta-wwm-ext-large-onnx/model_fp16.onnx"
	}
	if cfg.Model.BertVocab == "" {
		cfg.Model.BertVocab = "chinese-roberta-wwm-ext-large-onnx/vocab.txt"
	}
	if cfg.Model.PoolSize == 0 {
		cfg.Model.PoolSize = def.PoolSize
	}
	if cfg.Model.PoolWait == 0 {
		cfg.Model.PoolWait = def.PoolWait
	}
	if cfg.Model.InferTimeout == 0 {
		cfg.Model.InferTimeout = def.InferTimeout
	}
	if cfg.Model.MaxSeqLen == 0 {
		cfg.Model.MaxSeqLen = def.MaxSeqLen
	}

	if cfg.Audio.Peak == 0 {
		cfg.Audio.Peak = sbv2.DefaultPeak
	}

	if cfg.Synthesis.SDPRatio == 0 {
		cfg.Synthesis.SDPRatio = sbv2.DefaultSDPRatio
	}
	if cfg.Synthesis.Noise == 0 {
		cfg.Synthesis.Noise = sbv2.DefaultNoise
	}
	if cfg.Synthesis.NoiseW == 0 {
		cfg.Synthesis.NoiseW = sbv2.DefaultNoiseW
	}
	if cfg.Synthesis.StyleWeight == 0 {
		cfg.Synthesis.StyleWeight = sbv2.DefaultStyleWeight
	}
	if cfg.Synthesis.DefaultStyle == "" {
		cfg.Synthesis.DefaultStyle = def.DefaultStyle
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sbv2-speech"
	}
}

// applyEnv SBV2_ 前缀的环境变量覆盖配置文件
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"SBV2_LISTEN":          &cfg.Server.Listen,
		"SBV2_ONNXRUNTIME_LIB": &cfg.Model.OnnxRuntimeLib,
		"SBV2_MODEL_DIR":       &cfg.Model.Dir,
		"SBV2_DICTIONARY":      &cfg.Text.Dictionary,
		"SBV2_DEFAULT_STYLE":   &cfg.Synthesis.DefaultStyle,
		"SBV2_DEFAULT_SPEAKER": &cfg.Synthesis.DefaultSpeaker,
		"SBV2_LOG_LEVEL":       &cfg.Log.Level,
		"SBV2_LOG_FILE":        &cfg.Log.File,
		"SBV2_OTLP_ENDPOINT":   &cfg.Telemetry.Endpoint,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SBV2_POOL_SIZE": &cfg.Model.PoolSize,
		"SBV2_THREADS":   &cfg.Model.Threads,
		"SBV2_DEVICE_ID": &cfg.Model.DeviceID,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("环境变量 %s 不是整数: %s", key, v)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("SBV2_PROVIDERS"); ok {
		cfg.Model.Providers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("SBV2_STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("环境变量 SBV2_STRICT 不是布尔值: %s", v)
		}
		cfg.Text.Strict = b
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Model.PoolSize < 0 {
		return fmt.Errorf("model.pool_size 不能为负数: %d", c.Model.PoolSize)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit 不能为负数: %g", c.Server.RateLimit)
	}
	if _, err := speech.ParseProviders(c.Model.Providers); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Path 解析模型目录下的相对路径
func (m ModelConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Engine 转换为引擎配置
func (c *Config) Engine() (sbv2.Config, error) {
	providers, err := speech.ParseProviders(c.Model.Providers)
	if err != nil {
		return sbv2.Config{}, err
	}
	m := c.Model
	return sbv2.Config{
		OnnxRuntimeLibPath: m.OnnxRuntimeLib,
		ModelPath:          m.Path(m.Model),
		ConfigPath:         m.Path(m.HyperParams),
		StyleVectorsPath:   m.Path(m.StyleVectors),
		BertModelPath:      m.Path(m.BertModel),
		BertVocabPath:      m.Path(m.BertVocab),
		DictPath:           c.Text.Dictionary,
		Providers:          providers,
		DeviceID:           m.DeviceID,
		NumThreads:         m.Threads,
		PoolSize:           m.PoolSize,
		PoolWait:           m.PoolWait,
		InferTimeout:       m.InferTimeout,
		MaxSeqLen:          m.MaxSeqLen,
		Strict:             c.Text.Strict,
		BroadcastStyle:     m.BroadcastStyle,
		DefaultStyle:       c.Synthesis.DefaultStyle,
		DefaultSpeaker:     c.Synthesis.DefaultSpeaker,
		Peak:               c.Audio.Peak,
		SDPRatio:           c.Synthesis.SDPRatio,
		Noise:              c.Synthesis.Noise,
		NoiseW:             c.Synthesis.NoiseW,
		StyleWeight:        c.Synthesis.StyleWeight,
	}, nil
}
