// Package normalizer 将原始输入整理为可供 G2P 使用的规范文本
package normalizer

import (
	"strings"
	"unicode"

	"github.com/getcharzp/sbv2-speech/ttserr"
)

// Punctuations 模型符号表中的标点
var Punctuations = []string{"!", "?", "…", ",", ".", "'", "-"}

// SegmentKind 片段类型
type SegmentKind int

const (
	Han SegmentKind = iota
	Latin
	Punct
)

func (k SegmentKind) String() string {
	switch k {
	case Han:
		return "han"
	case Latin:
		return "latin"
	default:
		return "punct"
	}
}

// Segment 同类字符组成的连续片段
type Segment struct {
	Kind SegmentKind
	Text string
}

// NormalizedText 规范化结果
type NormalizedText struct {
	Text     string
	Segments []Segment
}

// 多字符替换需要先于单字符处理
var multiReplacer = strings.NewReplacer("...", "…", "……", "…")

var charMap = map[rune]string{
	'：': ",", ':': ",",
	'；': ",", ';': ",",
	'，': ",", '、': ",", '·': ",",
	'。': ".", '$': ".", '\n': ".",
	'！': "!", '？': "?",
	'“': "'", '”': "'", '"': "'", '‘': "'", '’': "'",
	'（': "'", '）': "'", '(': "'", ')': "'",
	'《': "'", '》': "'", '【': "'", '】': "'",
	'[': "'", ']': "'", '「': "'", '」': "'",
	'—': "-", '～': "-", '~': "-",
	'嗯': "恩", '呣': "母",
}

// Normalize 规范化文本
//
// 全角转半角、数字转中文读法、标点统一、去除无法发音的字符并折叠空白
func Normalize(text string) (NormalizedText, error) {
	if strings.TrimSpace(text) == "" {
		return NormalizedText{}, ttserr.New(ttserr.InvalidInput, "normalize", "输入文本为空")
	}

	s := foldWidth(text)
	s = multiReplacer.Replace(s)
	s = ReplaceNumbers(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if rep, ok := charMap[r]; ok {
			flushSpace(&b, &pendingSpace)
			b.WriteString(rep)
			continue
		}
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case IsHan(r), isLatin(r), isDigit(r), isPunct(r):
			flushSpace(&b, &pendingSpace)
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return NormalizedText{}, ttserr.New(ttserr.InvalidInput, "normalize", "文本中没有可发音的内容")
	}
	return NormalizedText{Text: out, Segments: split(out)}, nil
}

func flushSpace(b *strings.Builder, pending *bool) {
	if *pending {
		b.WriteByte(' ')
		*pending = false
	}
}

// foldWidth 全角 ASCII 与全角空格转为半角
func foldWidth(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '　':
			return ' '
		case r >= '！' && r <= '～':
			// 全角标点在 charMap 中有专门映射，保留原样
			if _, ok := charMap[r]; ok {
				return r
			}
			return r - 0xfee0
		}
		return r
	}, s)
}

// split 将规范文本切分为汉字、拉丁、标点片段，空白只用于分隔拉丁单词
func split(s string) []Segment {
	var (
		segs []Segment
		cur  []rune
		kind SegmentKind
	)
	flush := func() {
		if len(cur) > 0 {
			segs = append(segs, Segment{Kind: kind, Text: strings.TrimSpace(string(cur))})
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		var k SegmentKind
		switch {
		case r == ' ':
			// 空格仅在两个拉丁字母之间保留
			if kind == Latin && len(cur) > 0 && i+1 < len(runes) && isLatin(runes[i+1]) {
				cur = append(cur, r)
			}
			continue
		case isLatin(r):
			k = Latin
		case isPunct(r):
			k = Punct
		default:
			k = Han
		}
		if k != kind {
			flush()
			kind = k
		}
		cur = append(cur, r)
	}
	flush()
	return segs
}

// IsHan 是否为基本区汉字
func IsHan(r rune) bool { return r >= '一' && r <= '龥' }

func isLatin(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isPunct(r rune) bool {
	switch r {
	case '!', '?', '…', ',', '.', '\'', '-':
		return true
	}
	return false
}
