package sbv2

import (
	"context"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/audio"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/nlp/bert"
	"github.com/getcharzp/sbv2-speech/nlp/g2p"
	"github.com/getcharzp/sbv2-speech/tts/style"
	"github.com/getcharzp/sbv2-speech/ttserr"
)

// Result 合成结果，单声道浮点 PCM
type Result struct {
	Samples    []float32
	SampleRate int
	Provider   speech.Provider
	Session    int           // 执行推理的会话编号
	Infer      time.Duration // 前向推理耗时
}

// Duration 音频时长
func (r *Result) Duration() time.Duration {
	return time.Duration(audio.Duration(len(r.Samples), r.SampleRate) * float64(time.Second))
}

// Orchestrator 组装模型输入并在会话池中执行推理
type Orchestrator struct {
	pool           *Pool
	hp             *HyperParameters
	timeout        time.Duration
	peak           float32
	broadcastStyle bool
	styleDim       int
}

// NewOrchestrator 创建 Orchestrator，styleDim 为 0 时不校验风格向量维度
func NewOrchestrator(pool *Pool, hp *HyperParameters, cfg Config, styleDim int) *Orchestrator {
	peak := cfg.Peak
	if peak == 0 {
		peak = DefaultPeak
	}
	return &Orchestrator{
		pool:           pool,
		hp:             hp,
		timeout:        cfg.InferTimeout,
		peak:           peak,
		broadcastStyle: cfg.BroadcastStyle,
		styleDim:       styleDim,
	}
}

// Synthesize 执行一次前向推理
//
// 借出会话前等待超时返回 PoolExhausted；借出后超时、推理失败或崩溃返回 InferenceError。
// 会话在推理结束后归还，调用方提前返回时也不会泄漏。
func (o *Orchestrator) Synthesize(ctx context.Context, req *Request, seq *g2p.Sequence, emb *bert.Embedding, vec style.Vector) (*Result, error) {
	in, err := o.inputs(req, seq, emb, vec)
	if err != nil {
		return nil, err
	}

	lease, err := o.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	out, elapsed, err := o.forward(ctx, lease, in)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ttserr.New(ttserr.InferenceError, "sbv2.Synthesize", "模型输出为空")
	}
	if o.peak > 0 {
		audio.NormalizePeak(out, o.peak)
	}
	return &Result{
		Samples:    out,
		SampleRate: o.hp.Data.SamplingRate,
		Provider:   o.pool.Provider(),
		Session:    lease.ID(),
		Infer:      elapsed,
	}, nil
}

type forwardResult struct {
	out []float32
	err error
}

// forward 在独立 goroutine 中推理，goroutine 结束时归还会话
func (o *Orchestrator) forward(ctx context.Context, lease *Lease, in *Inputs) ([]float32, time.Duration, error) {
	const op = "sbv2.forward"
	done := make(chan forwardResult, 1)
	go func() {
		var r forwardResult
		defer func() { done <- r }()
		defer lease.Release()
		defer func() {
			if p := recover(); p != nil {
				logger.Errorf("[infer] 会话 %d 推理崩溃: %v", lease.ID(), p)
				r = forwardResult{err: ttserr.New(ttserr.InferenceError, op, "推理崩溃: %v", p)}
			}
		}()
		r.out, r.err = lease.Session().Run(in)
		if r.err != nil {
			r.err = ttserr.Wrap(ttserr.InferenceError, op, r.err)
		}
	}()

	var timeout <-chan time.Time
	if o.timeout > 0 {
		timer := time.NewTimer(o.timeout - time.Since(lease.Acquired()))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case r := <-done:
		return r.out, time.Since(lease.Acquired()), r.err
	case <-timeout:
		logger.Warnf("[infer] 会话 %d 推理超时，结束后归还", lease.ID())
		return nil, 0, ttserr.New(ttserr.InferenceError, op, "推理超时 (%s)", o.timeout)
	case <-ctx.Done():
		return nil, 0, ttserr.Wrap(ttserr.InferenceError, op, ctx.Err())
	}
}

// inputs 组装模型输入，形状不一致属于内部错误
func (o *Orchestrator) inputs(req *Request, seq *g2p.Sequence, emb *bert.Embedding, vec style.Vector) (*Inputs, error) {
	const op = "sbv2.inputs"
	n := seq.Len()
	if n < 2 {
		return nil, ttserr.New(ttserr.InferenceError, op, "音素序列缺少哨兵: %d", n)
	}
	if emb.Rows != n {
		return nil, ttserr.New(ttserr.InferenceError, op, "BERT 特征行数 %d 与音素数 %d 不一致", emb.Rows, n)
	}
	if len(emb.Data) != emb.Rows*emb.Hidden {
		return nil, ttserr.New(ttserr.InferenceError, op, "BERT 特征长度 %d 与形状 [%d, %d] 不一致", len(emb.Data), emb.Hidden, emb.Rows)
	}
	if len(vec) == 0 || (o.styleDim > 0 && len(vec) != o.styleDim) {
		return nil, ttserr.New(ttserr.InferenceError, op, "风格向量维度 %d 与 %d 不一致", len(vec), o.styleDim)
	}
	phones, tones, langs, err := seq.IDs()
	if err != nil {
		return nil, ttserr.Wrap(ttserr.InferenceError, op, err)
	}
	sid, ok := o.hp.SpeakerID(req.Speaker)
	if !ok {
		return nil, ttserr.New(ttserr.InvalidInput, op, "说话人 %s 不存在", req.Speaker)
	}

	in := &Inputs{
		Phones:      phones,
		Tones:       tones,
		Langs:       langs,
		SpeakerID:   int64(sid),
		Bert:        emb.Data,
		Hidden:      emb.Hidden,
		Style:       vec,
		StyleRows:   1,
		LengthScale: req.LengthScale,
		SDPRatio:    req.SDPRatio,
		Noise:       req.Noise,
		NoiseW:      req.NoiseW,
	}
	if o.broadcastStyle {
		in.Style = make([]float32, 0, n*len(vec))
		for range n {
			in.Style = append(in.Style, vec...)
		}
		in.StyleRows = n
	}
	return in, nil
}
