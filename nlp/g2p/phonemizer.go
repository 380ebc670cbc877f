// Package g2p 中文文本转音素序列：分词、拼音、变调与韵律边界
package g2p

import (
	"fmt"
	"strings"

	"github.com/mozillazg/go-pinyin"

	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/nlp/normalizer"
	"github.com/getcharzp/sbv2-speech/ttserr"
)

// Unit 音素单元
type Unit struct {
	Phone     string
	Tone      Tone
	Lang      Language
	WordStart bool // 词首
	Phrase    bool // 短语边界 (由标点产生)
}

// Sequence 音素序列，首尾为哨兵
type Sequence struct {
	Units []Unit
	// Word2Ph 每个字素对应的音素个数，首尾对应哨兵，总和等于 len(Units)
	Word2Ph []int
	// Graphemes 字素文本 (汉字、标点或拉丁单词)，与 Word2Ph[1:len-1] 一一对应
	Graphemes []string
	// DictVersion 生成该序列所用的词典版本
	DictVersion string
	Blanked     bool
}

// Len 音素个数
func (s *Sequence) Len() int { return len(s.Units) }

// IDs 转换为模型输入的音素、声调、语言 ID
func (s *Sequence) IDs() (phones, tones, langs []int64, err error) {
	n := len(s.Units)
	phones, tones, langs = make([]int64, n), make([]int64, n), make([]int64, n)
	for i, u := range s.Units {
		id, ok := SymbolID(u.Phone)
		if !ok {
			return nil, nil, nil, fmt.Errorf("音素 %q 不在词表中", u.Phone)
		}
		phones[i] = id
		tones[i] = ToneID(u.Lang, u.Tone)
		langs[i] = int64(u.Lang)
	}
	return phones, tones, langs, nil
}

// WithBlanks 在每个音素两侧插入空白音素
//
// 长度由 n 变为 2n+1，Word2Ph 每项翻倍且首项加一
func (s *Sequence) WithBlanks() *Sequence {
	if s.Blanked {
		return s
	}
	blank := Unit{Phone: Pad}
	units := make([]Unit, 0, 2*len(s.Units)+1)
	units = append(units, blank)
	for _, u := range s.Units {
		units = append(units, u, blank)
	}
	w2p := make([]int, len(s.Word2Ph))
	for i, n := range s.Word2Ph {
		w2p[i] = n * 2
	}
	if len(w2p) > 0 {
		w2p[0]++
	}
	return &Sequence{
		Units:       units,
		Word2Ph:     w2p,
		Graphemes:   s.Graphemes,
		DictVersion: s.DictVersion,
		Blanked:     true,
	}
}

// Phones 音素文本，调试用
func (s *Sequence) Phones() []string {
	out := make([]string, len(s.Units))
	for i, u := range s.Units {
		out[i] = u.Phone
	}
	return out
}

// Tones 声调 (未加语言偏移)
func (s *Sequence) Tones() []Tone {
	out := make([]Tone, len(s.Units))
	for i, u := range s.Units {
		out[i] = u.Tone
	}
	return out
}

// Option 配置项
type Option func(*Phonemizer)

// WithStrict 严格模式：无法解析的字直接报错
func WithStrict(strict bool) Option {
	return func(p *Phonemizer) { p.strict = strict }
}

// Phonemizer 文本转音素，创建后只读，可并发使用
type Phonemizer struct {
	dict   *Dictionary
	args   pinyin.Args
	strict bool
}

// New 创建 Phonemizer
func New(dict *Dictionary, opts ...Option) *Phonemizer {
	p := &Phonemizer{dict: dict, args: newArgs()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strict 是否严格模式
func (p *Phonemizer) Strict() bool { return p.strict }

// Phonemize 将规范文本转换为音素序列
func (p *Phonemizer) Phonemize(text normalizer.NormalizedText) (*Sequence, error) {
	if len(text.Segments) == 0 {
		return nil, ttserr.New(ttserr.InvalidInput, "phonemize", "规范化文本为空")
	}

	b := &seqBuilder{seq: &Sequence{DictVersion: p.dict.Version()}}
	b.sentinel()
	for _, seg := range text.Segments {
		switch seg.Kind {
		case normalizer.Han:
			if err := p.han(b, seg.Text); err != nil {
				return nil, err
			}
		case normalizer.Latin:
			for _, w := range strings.Fields(seg.Text) {
				b.grapheme(w, spellLatin(w))
			}
		case normalizer.Punct:
			for _, r := range seg.Text {
				ph := string(r)
				b.grapheme(ph, []Unit{{Phone: ph, WordStart: true, Phrase: true}})
			}
		}
	}
	b.sentinel()
	return b.seq, nil
}

// han 汉字片段: 分词、合并、变调后逐字输出
func (p *Phonemizer) han(b *seqBuilder, text string) error {
	ws := p.preMerge(p.cut(text))
	for _, w := range ws {
		tones := p.modifyTones(w)
		for i, s := range w.syl {
			units, err := p.syllableUnits(s, tones[i])
			if err != nil {
				return err
			}
			units[0].WordStart = i == 0
			b.grapheme(string(s.char), units)
		}
	}
	return nil
}

func (p *Phonemizer) syllableUnits(s syllable, tone Tone) ([]Unit, error) {
	if !s.ok {
		if p.strict {
			return nil, ttserr.New(ttserr.UnknownSegment, "phonemize", "无法解析的字: %q", s.char)
		}
		logger.Debugf("[g2p] 无法解析的字 %q，使用占位音素", s.char)
		return []Unit{{Phone: Unknown, Tone: ToneNeutral}}, nil
	}
	phones := phonesOf(s.initial, s.final)
	units := make([]Unit, len(phones))
	for i, ph := range phones {
		units[i] = Unit{Phone: ph, Tone: tone}
	}
	return units, nil
}

type seqBuilder struct {
	seq *Sequence
}

func (b *seqBuilder) sentinel() {
	b.seq.Units = append(b.seq.Units, Unit{Phone: Pad, WordStart: true})
	b.seq.Word2Ph = append(b.seq.Word2Ph, 1)
}

func (b *seqBuilder) grapheme(text string, units []Unit) {
	if len(units) == 0 {
		return
	}
	b.seq.Units = append(b.seq.Units, units...)
	b.seq.Word2Ph = append(b.seq.Word2Ph, len(units))
	b.seq.Graphemes = append(b.seq.Graphemes, text)
}
