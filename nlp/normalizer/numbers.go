package normalizer

import (
	"strings"
)

var (
	digitNames   = [10]string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}
	placeUnits   = [4]string{"", "十", "百", "千"}
	sectionUnits = [5]string{"", "万", "亿", "兆", "京"}
)

// maxReadableDigits 超过该长度的整数逐位朗读 (电话号码、编号等)
const maxReadableDigits = 12

// ReplaceNumbers 将阿拉伯数字替换为中文读法
//
// 支持整数、小数、百分数和负数
func ReplaceNumbers(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) * 2)

	for i := 0; i < len(runes); {
		r := runes[i]
		if !isDigit(r) {
			b.WriteRune(r)
			i++
			continue
		}

		start := i
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
		intPart := string(runes[start:i])
		fracPart := ""
		if i+1 < len(runes) && runes[i] == '.' && isDigit(runes[i+1]) {
			j := i + 1
			for j < len(runes) && isDigit(runes[j]) {
				j++
			}
			fracPart = string(runes[i+1 : j])
			i = j
		}
		percent := i < len(runes) && (runes[i] == '%' || runes[i] == '％')
		if percent {
			i++
		}

		// 前一个字符为 '-' 且其前面不是字母数字时视为负号
		negative := false
		if start > 0 && runes[start-1] == '-' && (start == 1 || !isAlnum(runes[start-2])) {
			negative = true
			trimLastRune(&b)
		}

		if percent {
			b.WriteString("百分之")
		}
		if negative {
			b.WriteString("负")
		}
		b.WriteString(readNumber(intPart, fracPart))
	}
	return b.String()
}

func readNumber(intPart, fracPart string) string {
	var out string
	if len(intPart) > maxReadableDigits || (len(intPart) > 1 && intPart[0] == '0' && fracPart == "") {
		out = readDigits(intPart)
	} else {
		out = readInteger(intPart)
	}
	if fracPart != "" {
		out += "点" + readDigits(fracPart)
	}
	return out
}

func readDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(digitNames[r-'0'])
	}
	return b.String()
}

// readInteger 按万进制分节读出整数
func readInteger(s string) string {
	var v uint64
	for _, r := range s {
		v = v*10 + uint64(r-'0')
	}
	if v == 0 {
		return digitNames[0]
	}

	var (
		result   string
		needZero bool
		section  int
	)
	for v > 0 {
		part := int(v % 10000)
		if part != 0 {
			chunk := readSection(part) + sectionUnits[section]
			if needZero && !strings.HasPrefix(result, "零") {
				result = "零" + result
			}
			result = chunk + result
			needZero = part < 1000 && v >= 10000
		} else if result != "" {
			needZero = true
		}
		v /= 10000
		section++
	}

	if strings.HasPrefix(result, "一十") {
		result = strings.TrimPrefix(result, "一")
	}
	return result
}

// readSection 读出 0-9999 的一节
func readSection(n int) string {
	var (
		words string
		pos   int
		zero  = true
	)
	for n > 0 {
		d := n % 10
		if d == 0 {
			if !zero {
				zero = true
				words = "零" + words
			}
		} else {
			zero = false
			words = digitNames[d] + placeUnits[pos] + words
		}
		pos++
		n /= 10
	}
	return strings.TrimRight(words, "零")
}

func isAlnum(r rune) bool { return isDigit(r) || isLatin(r) }

func trimLastRune(b *strings.Builder) {
	s := b.String()
	if s == "" {
		return
	}
	rs := []rune(s)
	b.Reset()
	b.WriteString(string(rs[:len(rs)-1]))
}
