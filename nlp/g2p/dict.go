package g2p

import (
	"bufio"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

//go:embed dict.txt
var defaultDict string

// Entry 词典条目
type Entry struct {
	Word   string
	Freq   int
	POS    string
	Pinyin []string // 可选，逐字读音，如 hang2
}

// Dictionary 只读分词词典，加载完成后可并发使用
type Dictionary struct {
	entries map[string]Entry
	maxLen  int
	version string
}

// NewDictionary 加载内置词典，并依次合并 extra 中的词条
func NewDictionary(extra ...io.Reader) (*Dictionary, error) {
	d := &Dictionary{entries: make(map[string]Entry)}
	h := sha256.New()

	for _, w := range mustNeutralWords {
		d.add(Entry{Word: w, Freq: 1, POS: "n"})
	}
	for w, py := range mustNotNeutral {
		d.add(Entry{Word: w, Freq: 1, POS: "n", Pinyin: py})
	}

	if err := d.parse(strings.NewReader(defaultDict), h); err != nil {
		return nil, fmt.Errorf("解析内置词典失败: %w", err)
	}
	for i, r := range extra {
		if err := d.parse(r, h); err != nil {
			return nil, fmt.Errorf("解析第 %d 个扩展词典失败: %w", i+1, err)
		}
	}
	d.version = hex.EncodeToString(h.Sum(nil))[:16]
	return d, nil
}

// LoadDictionary 内置词典 + 词典文件，path 为空时只使用内置词典
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return NewDictionary()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewDictionary(f)
}

// parse 解析词典
//
// 数据格式: 词 [词频] [词性] [拼音...]，# 开头为注释
func (d *Dictionary) parse(r io.Reader, h io.Writer) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, _ = io.WriteString(h, line+"\n")

		parts := strings.Fields(line)
		e := Entry{Word: parts[0], Freq: 1, POS: "x"}
		rest := parts[1:]
		if len(rest) > 0 {
			if n, err := strconv.Atoi(rest[0]); err == nil {
				e.Freq = n
				rest = rest[1:]
			}
		}
		if len(rest) > 0 && !isSyllable(rest[0]) {
			e.POS = rest[0]
			rest = rest[1:]
		}
		if len(rest) > 0 {
			if len(rest) != utf8.RuneCountInString(e.Word) {
				return fmt.Errorf("第 %d 行: %q 的读音数量与字数不一致", lineNo, e.Word)
			}
			for _, py := range rest {
				if !isSyllable(py) {
					return fmt.Errorf("第 %d 行: 非法读音 %q", lineNo, py)
				}
			}
			e.Pinyin = rest
		}
		d.add(e)
	}
	return scanner.Err()
}

func (d *Dictionary) add(e Entry) {
	if old, ok := d.entries[e.Word]; ok && e.Pinyin == nil {
		e.Pinyin = old.Pinyin
	}
	d.entries[e.Word] = e
	if n := utf8.RuneCountInString(e.Word); n > d.maxLen {
		d.maxLen = n
	}
}

// Lookup 查找词条
func (d *Dictionary) Lookup(word string) (Entry, bool) {
	e, ok := d.entries[word]
	return e, ok
}

// Len 词条数量
func (d *Dictionary) Len() int { return len(d.entries) }

// Version 词典内容摘要，内容相同则版本相同
func (d *Dictionary) Version() string { return d.version }

// isSyllable 形如 hao3 / lv4 / de5 的带调拼音
func isSyllable(s string) bool {
	if len(s) < 2 {
		return false
	}
	last := s[len(s)-1]
	if last < '1' || last > '5' {
		return false
	}
	for _, r := range s[:len(s)-1] {
		if (r < 'a' || r > 'z') && r != 'ü' {
			return false
		}
	}
	return true
}
