package g2p

// segments 正向最大匹配分词，text 只包含汉字
func (p *Phonemizer) segments(text string) []string {
	rs := []rune(text)
	out := make([]string, 0, len(rs))
	for i := 0; i < len(rs); {
		n := max(1, min(p.dict.maxLen, len(rs)-i))
		for ; n > 1; n-- {
			if _, ok := p.dict.Lookup(string(rs[i : i+n])); ok {
				break
			}
		}
		out = append(out, string(rs[i:i+n]))
		i += n
	}
	return out
}

// cut 分词并标注词性、读音
func (p *Phonemizer) cut(text string) []word {
	segs := p.segments(text)
	ws := make([]word, len(segs))
	for i, s := range segs {
		ws[i] = p.newWord([]rune(s))
	}
	return ws
}

// newWord 查询词性与读音，词典读音优先
func (p *Phonemizer) newWord(rs []rune) word {
	text := string(rs)
	w := word{text: text, pos: "x", syl: make([]syllable, len(rs))}
	e, ok := p.dict.Lookup(text)
	if ok {
		w.pos = e.POS
	}
	for i, r := range rs {
		if ok && len(e.Pinyin) == len(rs) {
			w.syl[i] = parseSyllable(r, e.Pinyin[i])
			continue
		}
		if py, found := readingOf(r, p.args); found {
			w.syl[i] = parseSyllable(r, py)
		} else {
			w.syl[i] = unresolved(r)
		}
	}
	return w
}

// cutForSearch 搜索引擎模式分词: 在分词结果的基础上补充词内的二字、三字词
func (p *Phonemizer) cutForSearch(text string) []string {
	var out []string
	for _, seg := range p.segments(text) {
		rs := []rune(seg)
		for _, size := range []int{2, 3} {
			if len(rs) <= size {
				continue
			}
			for i := 0; i+size <= len(rs); i++ {
				if _, ok := p.dict.Lookup(string(rs[i : i+size])); ok {
					out = append(out, string(rs[i:i+size]))
				}
			}
		}
		out = append(out, seg)
	}
	return out
}
