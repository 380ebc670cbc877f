package g2p

import (
	"strings"

	"github.com/mozillazg/go-pinyin"
)

var initials = []string{
	"zh", "ch", "sh", "b", "p", "m", "f", "d", "t", "n", "l", "g", "k", "h", "j", "q", "x", "r",
	"z", "c", "s", "y", "w",
}

// syllable 单个汉字的读音
type syllable struct {
	char    rune
	initial string
	final   string
	tone    Tone
	ok      bool // 读音是否可解析为模型音素
}

// newArgs 拼音转换参数：数字声调，不启用多音字
func newArgs() pinyin.Args {
	args := pinyin.NewArgs()
	args.Style = pinyin.Tone3
	return args
}

// readingOf 查询单字的基础读音
func readingOf(r rune, args pinyin.Args) (string, bool) {
	pys := pinyin.Pinyin(string(r), args)
	if len(pys) == 0 || len(pys[0]) == 0 || pys[0][0] == "" {
		return "", false
	}
	return pys[0][0], true
}

// parseSyllable 拆分 hao3 这样的读音为声母、韵母、声调
func parseSyllable(r rune, py string) syllable {
	py = strings.ReplaceAll(strings.ToLower(py), "ü", "v")
	s := syllable{char: r, tone: ToneNeutral}
	if n := len(py); n > 0 && py[n-1] >= '1' && py[n-1] <= '5' {
		s.tone = Tone(py[n-1] - '0')
		py = py[:n-1]
	}
	for _, ini := range initials {
		if strings.HasPrefix(py, ini) {
			s.initial = ini
			break
		}
	}
	s.final = strings.TrimPrefix(py, s.initial)
	s.ok = py != "" && phonesOf(s.initial, s.final) != nil
	return s
}

// unresolved 无读音的汉字
func unresolved(r rune) syllable {
	return syllable{char: r, tone: ToneNeutral}
}

var finalAliases = map[string]string{"uei": "ui", "iou": "iu", "uen": "un"}

// phonesOf 按 opencpop 严格方案将拼音转换为模型音素，无法转换时返回 nil
func phonesOf(initial, final string) []string {
	if alias, ok := finalAliases[final]; ok {
		final = alias
	}
	if final == "" {
		return nil
	}

	switch initial {
	case "":
		// 零声母音节使用 AA / EE / OO 作为声母占位
		switch final[0] {
		case 'a':
			initial = "AA"
		case 'e':
			initial = "EE"
		case 'o':
			initial = "OO"
		default:
			return nil
		}
	case "y":
		switch final {
		case "u":
			final = "v"
		case "ue":
			final = "ve"
		case "uan":
			final = "van"
		case "un":
			final = "vn"
		case "e":
			final = "E"
		case "an":
			final = "En"
		}
	case "zh", "ch", "sh", "r":
		if final == "i" {
			final = "ir"
		}
	case "z", "c", "s":
		if final == "i" {
			final = "i0"
		}
	case "j", "q", "x":
		if strings.HasPrefix(final, "u") {
			final = "v" + final[1:]
		}
	case "l", "n":
		if final == "ue" {
			final = "ve"
		}
	}

	if _, ok := zhSet[initial]; !ok {
		return nil
	}
	if _, ok := zhSet[final]; !ok {
		return nil
	}
	return []string{initial, final}
}
