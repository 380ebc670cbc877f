// Package sbv2 Style-Bert-VITS2 中文语音合成引擎
package sbv2

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/audio"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/nlp/bert"
	"github.com/getcharzp/sbv2-speech/nlp/g2p"
	"github.com/getcharzp/sbv2-speech/nlp/normalizer"
	"github.com/getcharzp/sbv2-speech/tts/style"
	"github.com/getcharzp/sbv2-speech/ttserr"
	"github.com/up-zero/gotool/convertutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/getcharzp/sbv2-speech/tts/sbv2")

// Engine 封装了 Style-Bert-VITS2 的完整合成流水线
// 持有会话池、BERT、风格向量和词典，创建后可并发使用
type Engine struct {
	config     Config
	hp         *HyperParameters
	phonemizer *g2p.Phonemizer
	encoder    *bert.Encoder
	styles     *style.Store
	pool       *Pool
	orch       *Orchestrator
	obs        Observer
	lmConfig   *speech.OnnxConfig
}

// Components 已加载的各部分资源
type Components struct {
	Hyper      *HyperParameters
	Phonemizer *g2p.Phonemizer
	Encoder    *bert.Encoder
	Styles     *style.Store
	Pool       *Pool
}

type options struct {
	obs Observer
}

// Option 引擎选项
type Option func(*options)

// WithObserver 设置指标回调
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

func applyOptions(opts []Option) options {
	o := options{obs: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.obs == nil {
		o.obs = nopObserver{}
	}
	return o
}

// NewEngine 加载模型资源并初始化引擎，任何失败都返回 ModelLoadError
func NewEngine(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	const op = "sbv2.NewEngine"
	if cfg.ModelPath == "" || cfg.ConfigPath == "" || cfg.StyleVectorsPath == "" || cfg.BertModelPath == "" || cfg.BertVocabPath == "" {
		return nil, ttserr.New(ttserr.ModelLoadError, op, "模型、config.json、风格向量和 BERT 文件路径不能为空")
	}
	fail := func(what string, err error) (*Engine, error) {
		return nil, ttserr.Wrap(ttserr.ModelLoadError, op, fmt.Errorf("%s失败: %w", what, err))
	}

	hp, err := LoadHyperParameters(cfg.ConfigPath)
	if err != nil {
		return fail("加载模型配置", err)
	}
	styles, err := style.Load(cfg.StyleVectorsPath, hp.Data.Style2ID, cfg.DefaultStyle)
	if err != nil {
		return fail("加载风格向量", err)
	}
	dict, err := g2p.LoadDictionary(cfg.DictPath)
	if err != nil {
		return fail("加载词典", err)
	}
	tok, err := bert.LoadTokenizer(cfg.BertVocabPath, true)
	if err != nil {
		return fail("加载 BERT 词表", err)
	}

	// 会话池决定执行后端，BERT 使用同一后端
	factory, err := NewOnnxFactory(cfg)
	if err != nil {
		return fail("读取合成模型", err)
	}
	pool, err := NewPool(ctx, factory, PoolConfig{
		Providers: cfg.Providers,
		Size:      cfg.PoolSize,
		Wait:      cfg.PoolWait,
		Observer:  applyOptions(opts).obs,
	})
	if err != nil {
		return nil, err
	}

	lmConfig := new(speech.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, lmConfig); err != nil {
		_ = pool.Close(ctx)
		return fail("复制参数", err)
	}
	lmConfig.Provider = pool.Provider()
	if err := lmConfig.New(); err != nil {
		_ = pool.Close(ctx)
		return fail("初始化 BERT 会话参数", err)
	}
	lm, err := bert.NewOnnxModel(cfg.BertModelPath, lmConfig.SessionOptions)
	if err != nil {
		_ = lmConfig.Destroy()
		_ = pool.Close(ctx)
		return fail("加载 BERT", err)
	}
	encoder, err := bert.NewEncoder(tok, lm, cfg.MaxSeqLen)
	if err != nil {
		_ = lm.Close()
		_ = lmConfig.Destroy()
		_ = pool.Close(ctx)
		return fail("创建 BERT 编码器", err)
	}

	e, err := Assemble(cfg, Components{
		Hyper:      hp,
		Phonemizer: g2p.New(dict, g2p.WithStrict(cfg.Strict)),
		Encoder:    encoder,
		Styles:     styles,
		Pool:       pool,
	}, opts...)
	if err != nil {
		_ = encoder.Close()
		_ = lmConfig.Destroy()
		_ = pool.Close(ctx)
		return nil, err
	}
	e.lmConfig = lmConfig
	logger.Infof("[engine] 模型 %s 加载完成, 采样率 %d, 风格 %v", hp.ModelName, hp.Data.SamplingRate, styles.Names())
	return e, nil
}

// Assemble 用已加载的资源组装引擎
func Assemble(cfg Config, c Components, opts ...Option) (*Engine, error) {
	if c.Hyper == nil || c.Phonemizer == nil || c.Encoder == nil || c.Styles == nil || c.Pool == nil {
		return nil, ttserr.New(ttserr.ModelLoadError, "sbv2.Assemble", "引擎组件不完整")
	}
	e := &Engine{
		config:     cfg,
		hp:         c.Hyper,
		phonemizer: c.Phonemizer,
		encoder:    c.Encoder,
		styles:     c.Styles,
		pool:       c.Pool,
		obs:        applyOptions(opts).obs,
	}
	e.orch = NewOrchestrator(c.Pool, c.Hyper, cfg, c.Styles.Dim())
	return e, nil
}

// NewRequest 使用引擎默认参数构造请求
func (e *Engine) NewRequest(text string) *Request { return e.config.NewRequest(text) }

// Synthesize 将文本转换为语音数据 (float32 PCM)
func (e *Engine) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, record(span, err)
	}

	var norm normalizer.NormalizedText
	err := e.stage(ctx, StageNormalize, func(context.Context) (err error) {
		norm, err = normalizer.Normalize(req.Text)
		return err
	})
	if err != nil {
		return nil, record(span, err)
	}

	var seq *g2p.Sequence
	err = e.stage(ctx, StagePhonemize, func(context.Context) (err error) {
		seq, err = e.phonemizer.Phonemize(norm)
		if err == nil && e.hp.Data.AddBlank {
			seq = seq.WithBlanks()
		}
		return err
	})
	if err != nil {
		return nil, record(span, err)
	}
	e.obs.ObservePhonemes(seq.Len())
	span.SetAttributes(attribute.Int("phonemes", seq.Len()))

	var emb *bert.Embedding
	err = e.stage(ctx, StageEmbed, func(ctx context.Context) (err error) {
		var assist *bert.Assist
		if req.AssistText != "" {
			assist = &bert.Assist{Text: req.AssistText, Weight: req.AssistWeight}
		}
		emb, err = e.encoder.Embed(ctx, seq, assist)
		return err
	})
	if err != nil {
		return nil, record(span, err)
	}

	vec := e.styleVector(req)

	var res *Result
	err = e.stage(ctx, StageInfer, func(ctx context.Context) (err error) {
		res, err = e.orch.Synthesize(ctx, req, seq, emb, vec)
		return err
	})
	if err != nil {
		return nil, record(span, err)
	}
	logger.Debugf("[engine] %q -> %d 个音素, %.2fs 音频, 会话 %d 推理 %s",
		req.Text, seq.Len(), res.Duration().Seconds(), res.Session, res.Infer)
	return res, nil
}

// SynthesizeToWav 将文本转换为 WAV 格式的字节流
//
// # Params:
//
//	text: 需要转换的文本
//	speed: 语速调节,数值越大越快,1.0为正常语速
func (e *Engine) SynthesizeToWav(ctx context.Context, text string, speed float32) ([]byte, error) {
	req := e.NewRequest(text)
	if err := req.SetSpeed(speed); err != nil {
		return nil, err
	}
	res, err := e.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	var enc *audio.Encoded
	err = e.stage(ctx, StageEncode, func(context.Context) (err error) {
		enc, err = audio.Encode(res.Samples, res.SampleRate, audio.FormatWAV)
		return err
	})
	if err != nil {
		return nil, err
	}
	return enc.Data, nil
}

// styleVector 选择或混合风格后按强度调整
func (e *Engine) styleVector(req *Request) style.Vector {
	var v style.Vector
	if req.Blend != nil {
		v = e.styles.Blend(req.Blend.A, req.Blend.B, req.Blend.Ratio)
	} else {
		v = e.styles.Lookup(req.Style)
	}
	return e.styles.Condition(v, req.StyleWeight)
}

// stage 执行流水线的一个阶段并记录耗时与 span
func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	e.obs.ObserveStage(name, time.Since(start))
	return record(span, err)
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ttserr.TypeOf(err))
	}
	return err
}

// Observe 包装一个阶段，供引擎外的调用方 (如 HTTP 层编码) 记录指标
func (e *Engine) Observe(ctx context.Context, name string, fn func(context.Context) error) error {
	return e.stage(ctx, name, fn)
}

// SampleRate 输出采样率
func (e *Engine) SampleRate() int { return e.hp.Data.SamplingRate }

// Speakers 可用的说话人
func (e *Engine) Speakers() []string { return e.hp.Speakers() }

// Styles 可用的风格
func (e *Engine) Styles() []string { return e.styles.Names() }

// Provider 选定的执行后端
func (e *Engine) Provider() speech.Provider { return e.pool.Provider() }

// PoolSize 会话数量
func (e *Engine) PoolSize() int { return e.pool.Size() }

// Destroy 释放相关资源，会等待进行中的推理结束
func (e *Engine) Destroy(ctx context.Context) error {
	var errs []error
	if e.pool != nil {
		errs = append(errs, e.pool.Close(ctx))
	}
	if e.encoder != nil {
		errs = append(errs, e.encoder.Close())
	}
	if e.lmConfig != nil {
		errs = append(errs, e.lmConfig.Destroy())
	}
	return errors.Join(errs...)
}
