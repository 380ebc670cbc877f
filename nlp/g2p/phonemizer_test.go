package g2p

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/getcharzp/sbv2-speech/nlp/normalizer"
	"github.com/getcharzp/sbv2-speech/ttserr"
)

func newTestPhonemizer(t testing.TB, opts ...Option) *Phonemizer {
	t.Helper()
	dict, err := NewDictionary()
	require.NoError(t, err)
	return New(dict, opts...)
}

func phonemize(t *testing.T, p *Phonemizer, text string) *Sequence {
	t.Helper()
	norm, err := normalizer.Normalize(text)
	require.NoError(t, err)
	seq, err := p.Phonemize(norm)
	require.NoError(t, err)
	return seq
}

func TestPhonemizeSingleChar(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "你")

	assert.Equal(t, []string{"_", "n", "i", "_"}, seq.Phones())
	assert.Equal(t, []Tone{0, 3, 3, 0}, seq.Tones())
	assert.Equal(t, []int{1, 2, 1}, seq.Word2Ph)
	assert.Equal(t, []string{"你"}, seq.Graphemes)
}

func TestPhonemizeThirdToneSandhi(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "你好")

	assert.Equal(t, []string{"_", "n", "i", "h", "ao", "_"}, seq.Phones())
	assert.Equal(t, []Tone{0, 2, 2, 3, 3, 0}, seq.Tones())
	assert.Equal(t, []int{1, 2, 2, 1}, seq.Word2Ph)
}

func TestPhonemizeGreeting(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "你好，世界！")

	assert.Equal(t, []string{"_", "n", "i", "h", "ao", ",", "sh", "ir", "j", "ie", "!", "_"}, seq.Phones())
	assert.Equal(t, []int{1, 2, 2, 1, 2, 2, 1, 1}, seq.Word2Ph)
	assert.True(t, seq.Units[5].Phrase)
	assert.True(t, seq.Units[10].Phrase)
	assert.True(t, seq.Units[6].WordStart)
	assert.False(t, seq.Units[8].WordStart)
}

// syllableTones 每个字取首个音素的声调
func syllableTones(seq *Sequence) []Tone {
	var out []Tone
	pos := seq.Word2Ph[0]
	for _, n := range seq.Word2Ph[1 : len(seq.Word2Ph)-1] {
		out = append(out, seq.Units[pos].Tone)
		pos += n
	}
	return out
}

func TestToneSandhiRules(t *testing.T) {
	p := newTestPhonemizer(t)
	tests := []struct {
		text string
		want []Tone
	}{
		{"不要", []Tone{2, 4}},
		{"不同", []Tone{4, 2}},
		{"看不懂", []Tone{4, 5, 3}},
		{"看一看", []Tone{4, 5, 4}},
		{"一定", []Tone{2, 4}},
		{"一般", []Tone{4, 1}},
		{"第一", []Tone{4, 1}},
		{"试试", []Tone{4, 5}},
		{"纸老虎", []Tone{3, 2, 3}},
		{"展览馆", []Tone{2, 2, 3}},
		{"出去", []Tone{1, 5}},
		{"家里", []Tone{1, 5}},
		{"男子", []Tone{2, 3}},
		{"我们", []Tone{3, 5}},
		{"东西", []Tone{1, 5}},
		{"好吧", []Tone{3, 5}},
	}
	for _, tt := range tests {
		seq := phonemize(t, p, tt.text)
		assert.Equal(t, tt.want, syllableTones(seq), tt.text)
	}
}

func TestMustNotNeutralWords(t *testing.T) {
	p := newTestPhonemizer(t)
	want := map[string][]Tone{
		"男子": {2, 3},
		"女子": {2, 3},
		"分子": {1, 3},
		"原子": {2, 3},
		"量子": {4, 3},
		"莲子": {2, 3},
		"石子": {2, 3},
		"瓜子": {1, 3},
		"电子": {4, 3},
		"人人": {2, 2},
		"虎虎": {2, 3},
	}
	require.Len(t, want, len(mustNotNeutral))
	for w := range mustNotNeutral {
		seq := phonemize(t, p, w)
		assert.Equal(t, want[w], syllableTones(seq), w)
		assert.NotContains(t, syllableTones(seq), ToneNeutral, w)
	}
}

func TestMeasureWordGe(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "个")
	assert.Equal(t, []Tone{ToneNeutral}, syllableTones(seq))
}

func TestPhonemizeLatinAndPunct(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "ok!")

	assert.Equal(t, []string{"_", "ow", "k", "ey", "!", "_"}, seq.Phones())
	assert.Equal(t, []int{1, 3, 1, 1}, seq.Word2Ph)
	assert.Equal(t, []string{"ok", "!"}, seq.Graphemes)
	assert.Equal(t, LangEN, seq.Units[1].Lang)
	assert.Equal(t, Tone2, seq.Units[1].Tone)
	assert.Equal(t, ToneNone, seq.Units[2].Tone)
}

func TestStrictAndLenientModes(t *testing.T) {
	// 私用区字符没有读音
	text := normalizer.NormalizedText{
		Text:     "你\ue000",
		Segments: []normalizer.Segment{{Kind: normalizer.Han, Text: "你\ue000"}},
	}

	_, err := newTestPhonemizer(t, WithStrict(true)).Phonemize(text)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ttserr.ErrUnknownSegment))

	seq, err := newTestPhonemizer(t).Phonemize(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"_", "n", "i", Unknown, "_"}, seq.Phones())
	assert.Equal(t, ToneNeutral, seq.Units[3].Tone)
}

func TestPhonemizeEmpty(t *testing.T) {
	_, err := newTestPhonemizer(t).Phonemize(normalizer.NormalizedText{})
	assert.True(t, errors.Is(err, ttserr.ErrInvalidInput))
}

func TestWithBlanks(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "你好")
	blanked := seq.WithBlanks()

	assert.Equal(t, 2*seq.Len()+1, blanked.Len())
	assert.Equal(t, []int{3, 4, 4, 2}, blanked.Word2Ph)
	assert.Equal(t, Pad, blanked.Units[0].Phone)
	assert.Equal(t, "n", blanked.Units[3].Phone)
	assert.Same(t, blanked, blanked.WithBlanks())
	checkInvariants(t, blanked)
}

func TestSequenceIDs(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "你好ok")
	phones, tones, langs, err := seq.IDs()
	require.NoError(t, err)

	require.Len(t, phones, seq.Len())
	assert.Equal(t, int64(0), phones[0])
	assert.Equal(t, int64(2), tones[1])
	assert.Equal(t, ToneID(LangEN, Tone2), tones[5])
	assert.Equal(t, int64(LangEN), langs[5])
	for _, id := range tones {
		assert.Less(t, id, int64(NumTones))
	}
}

type fataler interface {
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

func checkInvariants(t fataler, seq *Sequence) {
	sum := 0
	for _, n := range seq.Word2Ph {
		sum += n
	}
	if sum != seq.Len() {
		t.Fatalf("word2ph 之和 %d 与音素数 %d 不一致", sum, seq.Len())
	}
	if len(seq.Word2Ph) != len(seq.Graphemes)+2 {
		t.Fatalf("word2ph 长度 %d 与字素数 %d 不匹配", len(seq.Word2Ph), len(seq.Graphemes))
	}
	if seq.Len() < 2 {
		t.Fatalf("序列长度 %d 小于 2", seq.Len())
	}
	if _, _, _, err := seq.IDs(); err != nil {
		t.Fatal(err)
	}
}

var textRunes = []rune("你好世界我们不一个看试纸老虎展览馆是的了吧家里出去东西中国北京银行，。！？、 abcXYZ123")

func TestPhonemizeDeterministic(t *testing.T) {
	p := newTestPhonemizer(t)
	other := newTestPhonemizer(t)

	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.StringOfN(rapid.SampledFrom(textRunes), 1, 40, -1).Draw(rt, "text")
		norm, err := normalizer.Normalize(raw)
		if err != nil {
			if !errors.Is(err, ttserr.ErrInvalidInput) {
				rt.Fatalf("意外错误: %v", err)
			}
			return
		}

		a, err := p.Phonemize(norm)
		if err != nil {
			rt.Fatalf("phonemize %q: %v", norm.Text, err)
		}
		b, err := other.Phonemize(norm)
		if err != nil {
			rt.Fatalf("phonemize %q: %v", norm.Text, err)
		}
		assert.Equal(rt, a, b, norm.Text)
		checkInvariants(rt, a)
		checkInvariants(rt, a.WithBlanks())
	})
}

func TestSymbols(t *testing.T) {
	assert.Equal(t, Pad, Symbols[0])
	assert.Equal(t, []string{ShortPause, Unknown}, Symbols[len(Symbols)-2:])
	assert.Len(t, symbolID, len(Symbols), "音素不应重复")

	id, ok := SymbolID("AA")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	assert.Equal(t, int64(10), ToneID(LangEN, Tone2))
	assert.Equal(t, int64(7), ToneID(LangJP, Tone1))
	assert.True(t, IsPunctuation("…"))
	assert.False(t, IsPunctuation("a"))
}

func TestPhonesOf(t *testing.T) {
	tests := []struct {
		initial, final string
		want           []string
	}{
		{"", "an", []string{"AA", "an"}},
		{"", "er", []string{"EE", "er"}},
		{"", "ou", []string{"OO", "ou"}},
		{"y", "an", []string{"y", "En"}},
		{"y", "e", []string{"y", "E"}},
		{"y", "u", []string{"y", "v"}},
		{"y", "ing", []string{"y", "ing"}},
		{"zh", "i", []string{"zh", "ir"}},
		{"r", "i", []string{"r", "ir"}},
		{"z", "i", []string{"z", "i0"}},
		{"j", "u", []string{"j", "v"}},
		{"q", "uan", []string{"q", "van"}},
		{"x", "un", []string{"x", "vn"}},
		{"l", "v", []string{"l", "v"}},
		{"n", "ue", []string{"n", "ve"}},
		{"d", "uei", []string{"d", "ui"}},
		{"h", "ao", []string{"h", "ao"}},
		{"m", "", nil},
		{"", "i", nil},
		{"b", "xyz", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, phonesOf(tt.initial, tt.final), tt.initial+"|"+tt.final)
	}
}

func TestParseSyllable(t *testing.T) {
	s := parseSyllable('绿', "lü4")
	assert.True(t, s.ok)
	assert.Equal(t, "l", s.initial)
	assert.Equal(t, "v", s.final)
	assert.Equal(t, Tone4, s.tone)

	s = parseSyllable('的', "de")
	assert.True(t, s.ok)
	assert.Equal(t, ToneNeutral, s.tone)
}

func TestDictionary(t *testing.T) {
	a, err := NewDictionary()
	require.NoError(t, err)
	b, err := NewDictionary()
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())

	e, ok := a.Lookup("银行")
	require.True(t, ok)
	assert.Equal(t, []string{"yin2", "hang2"}, e.Pinyin)
	assert.Equal(t, "n", e.POS)

	_, ok = a.Lookup("麻烦")
	assert.True(t, ok, "必读轻声词应加入词典")

	c, err := NewDictionary(strings.NewReader("语音合成 100 n yu3 yin1 he2 cheng2\n# 注释\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), c.Version())
	assert.Equal(t, a.Len()+1, c.Len())

	_, err = NewDictionary(strings.NewReader("银行 10 n yin2\n"))
	assert.Error(t, err)
}

func TestDictionaryOverridesHeteronym(t *testing.T) {
	seq := phonemize(t, newTestPhonemizer(t), "银行")
	assert.Equal(t, []string{"_", "y", "in", "h", "ang", "_"}, seq.Phones())
}

func TestSplitWord(t *testing.T) {
	p := newTestPhonemizer(t)
	assert.Equal(t, []string{"纸", "老虎"}, p.splitWord("纸老虎"))
	assert.Equal(t, []string{"展览", "馆"}, p.splitWord("展览馆"))
	assert.Equal(t, []string{"看", "一看"}, p.splitWord("看一看"))
}
