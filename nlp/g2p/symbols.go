package g2p

import (
	"slices"
)

// Tone 声调，0 表示无声调 (哨兵、标点)，5 为轻声
type Tone int8

const (
	ToneNone Tone = iota
	Tone1
	Tone2
	Tone3
	Tone4
	ToneNeutral
)

// Language 音素所属语言
type Language int8

const (
	LangZH Language = iota
	LangJP
	LangEN
)

const (
	numZHTones = 6
	numJPTones = 2
	numENTones = 4

	// NumTones 模型声调词表大小
	NumTones = numZHTones + numJPTones + numENTones
)

// toneStart 各语言声调在声调词表中的起始偏移
var toneStart = [...]int64{
	LangZH: 0,
	LangJP: numZHTones,
	LangEN: numZHTones + numJPTones,
}

const (
	// Pad 填充与哨兵音素
	Pad = "_"
	// Unknown 无法解析时的占位音素
	Unknown = "UNK"
	// ShortPause 短停顿
	ShortPause = "SP"
)

var zhSymbols = []string{
	"E", "En", "a", "ai", "an", "ang", "ao", "b", "c", "ch", "d", "e", "ei", "en", "eng", "er",
	"f", "g", "h", "i", "i0", "ia", "ian", "iang", "iao", "ie", "in", "ing", "iong", "ir", "iu",
	"j", "k", "l", "m", "n", "o", "ong", "ou", "p", "q", "r", "s", "sh", "t", "u", "ua", "uai",
	"uan", "uang", "ui", "un", "uo", "v", "van", "ve", "vn", "w", "x", "y", "z", "zh", "AA", "EE",
	"OO",
}

var jpSymbols = []string{
	"N", "a", "a:", "b", "by", "ch", "d", "dy", "e", "e:", "f", "g", "gy", "h", "hy", "i", "i:",
	"j", "k", "ky", "m", "my", "n", "ny", "o", "o:", "p", "py", "q", "r", "ry", "s", "sh", "t",
	"ts", "ty", "u", "u:", "w", "y", "z", "zy",
}

var enSymbols = []string{
	"aa", "ae", "ah", "ao", "aw", "ay", "b", "ch", "d", "dh", "eh", "er", "ey", "f", "g", "hh",
	"ih", "iy", "jh", "k", "l", "m", "n", "ng", "ow", "oy", "p", "r", "s", "sh", "t", "th", "uh",
	"uw", "V", "w", "y", "z", "zh",
}

var punctSymbols = []string{"!", "?", "…", ",", ".", "'", "-"}

var (
	// Symbols 模型音素词表，下标即音素 ID
	Symbols  = buildSymbols()
	symbolID = indexOf(Symbols)
	zhSet    = setOf(zhSymbols)
	enSet    = setOf(enSymbols)
)

// buildSymbols 填充符 + 去重排序后的三语音素 + 标点 + SP/UNK
func buildSymbols() []string {
	normal := slices.Concat(zhSymbols, jpSymbols, enSymbols)
	slices.Sort(normal)
	normal = slices.Compact(normal)

	out := make([]string, 0, len(normal)+len(punctSymbols)+3)
	out = append(out, Pad)
	out = append(out, normal...)
	out = append(out, punctSymbols...)
	return append(out, ShortPause, Unknown)
}

func indexOf(list []string) map[string]int64 {
	m := make(map[string]int64, len(list))
	for i, s := range list {
		m[s] = int64(i)
	}
	return m
}

func setOf(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, s := range list {
		m[s] = struct{}{}
	}
	return m
}

// SymbolID 音素 ID
func SymbolID(phone string) (int64, bool) {
	id, ok := symbolID[phone]
	return id, ok
}

// ToneID 声调在模型声调词表中的 ID
func ToneID(lang Language, tone Tone) int64 {
	return toneStart[lang] + int64(tone)
}

// IsPunctuation 是否为模型标点音素
func IsPunctuation(phone string) bool {
	return slices.Contains(punctSymbols, phone)
}
