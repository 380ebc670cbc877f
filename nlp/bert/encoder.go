// Package bert 将音素序列与上下文语言模型特征对齐
package bert

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/getcharzp/sbv2-speech/nlp/g2p"
	"github.com/getcharzp/sbv2-speech/ttserr"
)

const (
	// DefaultMaxSeqLen BERT 最大输入长度 (含 [CLS]/[SEP])
	DefaultMaxSeqLen = 512
	assistCacheSize  = 8
)

// Embedding 与音素对齐的上下文特征
//
// 逻辑上每个音素一行，存储为模型需要的 [Hidden, Rows] 列布局
type Embedding struct {
	Rows   int
	Hidden int
	Data   []float32
}

// Row 第 i 个音素的特征
func (e *Embedding) Row(i int) []float32 {
	out := make([]float32, e.Hidden)
	for h := range out {
		out[h] = e.Data[h*e.Rows+i]
	}
	return out
}

// Assist 辅助文本，用于把整体语气向辅助文本靠拢
type Assist struct {
	Text   string
	Weight float32
}

// Encoder 上下文特征提取，创建后可并发使用
type Encoder struct {
	tok       *Tokenizer
	lm        LanguageModel
	maxSeqLen int
	cache     *lru.Cache[string, []float32]
}

// NewEncoder 创建 Encoder，maxSeqLen <= 0 时使用默认值
func NewEncoder(tok *Tokenizer, lm LanguageModel, maxSeqLen int) (*Encoder, error) {
	if maxSeqLen <= 0 {
		maxSeqLen = DefaultMaxSeqLen
	}
	cache, err := lru.New[string, []float32](assistCacheSize)
	if err != nil {
		return nil, err
	}
	return &Encoder{tok: tok, lm: lm, maxSeqLen: maxSeqLen, cache: cache}, nil
}

// MaxSeqLen 最大 token 数
func (e *Encoder) MaxSeqLen() int { return e.maxSeqLen }

// Close 释放语言模型
func (e *Encoder) Close() error { return e.lm.Close() }

// Embed 提取与 seq 对齐的特征，行数恒等于 seq.Len()
func (e *Encoder) Embed(ctx context.Context, seq *g2p.Sequence, assist *Assist) (*Embedding, error) {
	if len(seq.Word2Ph) != len(seq.Graphemes)+2 {
		return nil, ttserr.New(ttserr.InferenceError, "embed",
			"word2ph 长度 %d 与字素数 %d 不匹配", len(seq.Word2Ph), len(seq.Graphemes))
	}

	// 每个字素对应的 token 区间
	ids := []int64{e.tok.CLS()}
	spans := make([][2]int, len(seq.Graphemes))
	for i, g := range seq.Graphemes {
		start := len(ids)
		ids = append(ids, e.tok.TokenizeUnit(g)...)
		spans[i] = [2]int{start, len(ids)}
	}
	ids = append(ids, e.tok.SEP())
	if len(ids) > e.maxSeqLen {
		return nil, ttserr.New(ttserr.InputTooLong, "embed",
			"token 数 %d 超过模型上限 %d", len(ids), e.maxSeqLen)
	}

	feats, hidden, err := e.lm.Forward(ctx, ids)
	if err != nil {
		return nil, ttserr.Wrap(ttserr.InferenceError, "embed", err)
	}
	if hidden <= 0 || len(feats) != len(ids)*hidden {
		return nil, ttserr.New(ttserr.InferenceError, "embed",
			"语言模型输出 %d 与 %dx%d 不一致", len(feats), len(ids), hidden)
	}

	var mean []float32
	if assist != nil && assist.Weight > 0 && strings.TrimSpace(assist.Text) != "" {
		if mean, err = e.assistMean(ctx, strings.TrimSpace(assist.Text), hidden); err != nil {
			return nil, err
		}
	}

	rows := seq.Len()
	emb := &Embedding{Rows: rows, Hidden: hidden, Data: make([]float32, rows*hidden)}
	col := 0
	put := func(vec []float32, repeat int) {
		if mean != nil {
			vec = blend(vec, mean, assist.Weight)
		}
		for ; repeat > 0 && col < rows; repeat-- {
			for h, v := range vec {
				emb.Data[h*rows+col] = v
			}
			col++
		}
	}

	last := len(seq.Word2Ph) - 1
	put(tokenRow(feats, hidden, 0), seq.Word2Ph[0])
	for i, span := range spans {
		put(averageRows(feats, hidden, span[0], span[1]), seq.Word2Ph[i+1])
	}
	put(tokenRow(feats, hidden, len(ids)-1), seq.Word2Ph[last])

	if col != rows || sum(seq.Word2Ph) != rows {
		return nil, ttserr.New(ttserr.InferenceError, "embed",
			"对齐后特征行数 %d 与音素数 %d 不一致", col, rows)
	}
	return emb, nil
}

// assistMean 辅助文本 token 特征的均值，结果缓存
func (e *Encoder) assistMean(ctx context.Context, text string, hidden int) ([]float32, error) {
	if mean, ok := e.cache.Get(text); ok && len(mean) == hidden {
		return mean, nil
	}
	ids := e.tok.Encode(text)
	if len(ids) > e.maxSeqLen {
		return nil, ttserr.New(ttserr.InputTooLong, "embed",
			"辅助文本 token 数 %d 超过模型上限 %d", len(ids), e.maxSeqLen)
	}
	feats, h, err := e.lm.Forward(ctx, ids)
	if err != nil {
		return nil, ttserr.Wrap(ttserr.InferenceError, "embed", fmt.Errorf("辅助文本: %w", err))
	}
	if h != hidden || len(feats) != len(ids)*h {
		return nil, ttserr.New(ttserr.InferenceError, "embed", "辅助文本特征维度不一致")
	}
	mean := averageRows(feats, h, 0, len(ids))
	e.cache.Add(text, mean)
	return mean, nil
}

func tokenRow(feats []float32, hidden, i int) []float32 {
	return feats[i*hidden : (i+1)*hidden]
}

// averageRows [start, end) 行的均值，空区间返回零向量
func averageRows(feats []float32, hidden, start, end int) []float32 {
	out := make([]float32, hidden)
	if end <= start {
		return out
	}
	for i := start; i < end; i++ {
		for h, v := range tokenRow(feats, hidden, i) {
			out[h] += v
		}
	}
	n := float32(end - start)
	for h := range out {
		out[h] /= n
	}
	return out
}

func blend(base, mean []float32, weight float32) []float32 {
	out := make([]float32, len(base))
	for i := range base {
		out[i] = base[i]*(1-weight) + mean[i]*weight
	}
	return out
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
