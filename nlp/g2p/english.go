package g2p

import (
	"unicode"
)

// letterPhones 英文字母按字母名朗读
var letterPhones = map[rune][]string{
	'a': {"ey"}, 'b': {"b", "iy"}, 'c': {"s", "iy"}, 'd': {"d", "iy"},
	'e': {"iy"}, 'f': {"eh", "f"}, 'g': {"jh", "iy"}, 'h': {"ey", "ch"},
	'i': {"ay"}, 'j': {"jh", "ey"}, 'k': {"k", "ey"}, 'l': {"eh", "l"},
	'm': {"eh", "m"}, 'n': {"eh", "n"}, 'o': {"ow"}, 'p': {"p", "iy"},
	'q': {"k", "y", "uw"}, 'r': {"aa", "r"}, 's': {"eh", "s"}, 't': {"t", "iy"},
	'u': {"y", "uw"}, 'v': {"V", "iy"}, 'w': {"d", "ah", "b", "ah", "l", "y", "uw"},
	'x': {"eh", "k", "s"}, 'y': {"w", "ay"}, 'z': {"z", "iy"},
}

var enVowels = setOf([]string{"aa", "ae", "ah", "ao", "aw", "ay", "eh", "er", "ey", "ih", "iy", "ow", "oy", "uh", "uw"})

// spellLatin 拉丁单词逐字母拼读，元音带重音声调
func spellLatin(text string) []Unit {
	var units []Unit
	for _, r := range text {
		phones, ok := letterPhones[unicode.ToLower(r)]
		if !ok {
			continue
		}
		for j, ph := range phones {
			u := Unit{Phone: ph, Lang: LangEN, WordStart: len(units) == 0 && j == 0}
			if _, vowel := enVowels[ph]; vowel {
				u.Tone = Tone2
			}
			units = append(units, u)
		}
	}
	return units
}
