package bert

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	tokenUnk = "[UNK]"
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"

	maxCharsPerWord = 100
)

// Tokenizer 基于 vocab.txt 的 WordPiece 分词器，加载后只读
type Tokenizer struct {
	vocab     map[string]int64
	unk       int64
	cls       int64
	sep       int64
	lowerCase bool
}

// LoadTokenizer 加载 vocab.txt
func LoadTokenizer(path string, lowerCase bool) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewTokenizer(f, lowerCase)
}

// NewTokenizer 从词表创建分词器
//
// 数据格式: 每行一个 token，行号即 ID
func NewTokenizer(r io.Reader, lowerCase bool) (*Tokenizer, error) {
	t := &Tokenizer{vocab: make(map[string]int64), lowerCase: lowerCase}
	scanner := bufio.NewScanner(r)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if token != "" {
			if _, dup := t.vocab[token]; !dup {
				t.vocab[token] = id
			}
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, special := range []struct {
		name string
		dst  *int64
	}{{tokenUnk, &t.unk}, {tokenCLS, &t.cls}, {tokenSEP, &t.sep}} {
		v, ok := t.vocab[special.name]
		if !ok {
			return nil, fmt.Errorf("词表缺少特殊 token %s", special.name)
		}
		*special.dst = v
	}
	return t, nil
}

// Size 词表大小
func (t *Tokenizer) Size() int { return len(t.vocab) }

// CLS 句首 token ID
func (t *Tokenizer) CLS() int64 { return t.cls }

// SEP 句尾 token ID
func (t *Tokenizer) SEP() int64 { return t.sep }

// TokenizeUnit 对单个字素 (汉字、标点或拉丁单词) 做 WordPiece 切分
func (t *Tokenizer) TokenizeUnit(unit string) []int64 {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil
	}
	if t.lowerCase {
		unit = strings.ToLower(unit)
	}
	if id, ok := t.vocab[unit]; ok {
		return []int64{id}
	}
	n := utf8.RuneCountInString(unit)
	if n == 1 || n > maxCharsPerWord {
		return []int64{t.unk}
	}

	// 贪心最长匹配
	var ids []int64
	rs := []rune(unit)
	for start := 0; start < len(rs); {
		end := len(rs)
		found := int64(-1)
		for ; end > start; end-- {
			piece := string(rs[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int64{t.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// Encode 对整段文本分词，返回带 [CLS]/[SEP] 的 ID 序列
func (t *Tokenizer) Encode(text string) []int64 {
	ids := []int64{t.cls}
	for _, unit := range basicSplit(text) {
		ids = append(ids, t.TokenizeUnit(unit)...)
	}
	return append(ids, t.sep)
}

// basicSplit 按空白切分，汉字与标点单独成词
func basicSplit(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Han, r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
