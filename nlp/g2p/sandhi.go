package g2p

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// word 分词结果，读音随词一起合并
type word struct {
	text string
	pos  string
	syl  []syllable
}

func (w word) runes() []rune { return []rune(w.text) }

func (w word) tones() []Tone {
	out := make([]Tone, len(w.syl))
	for i, s := range w.syl {
		out[i] = s.tone
	}
	return out
}

func concat(a, b word) word {
	return word{text: a.text + b.text, pos: a.pos, syl: slices.Concat(a.syl, b.syl)}
}

var mustNeutralWords = []string{
	"麻烦", "麻利", "鸳鸯", "高粱", "骨头", "骆驼", "马虎", "首饰", "馒头", "馄饨", "风筝",
	"难为", "队伍", "阔气", "闺女", "门道", "锄头", "铺盖", "铃铛", "铁匠", "钥匙", "里脊",
	"里头", "部分", "那么", "道士", "造化", "迷糊", "连累", "这么", "这个", "运气", "过去",
	"软和", "转悠", "踏实", "跳蚤", "跟头", "趔趄", "财主", "豆腐", "讲究", "记性", "记号",
	"认识", "规矩", "见识", "裁缝", "补丁", "衣裳", "衣服", "衙门", "街坊", "行李", "行当",
	"蛤蟆", "蘑菇", "薄荷", "葫芦", "葡萄", "萝卜", "荸荠", "苗条", "苗头", "苍蝇", "芝麻",
	"舒服", "舒坦", "舌头", "自在", "膏药", "脾气", "脑袋", "脊梁", "能耐", "胳膊", "胭脂",
	"胡萝", "胡琴", "胡同", "聪明", "耽误", "耽搁", "耷拉", "耳朵", "老爷", "老实", "老婆",
	"老头", "老太", "翻腾", "罗嗦", "罐头", "编辑", "结实", "红火", "累赘", "糨糊", "糊涂",
	"精神", "粮食", "簸箕", "篱笆", "算计", "算盘", "答应", "笤帚", "笑语", "笑话", "窟窿",
	"窝囊", "窗户", "稳当", "稀罕", "称呼", "秧歌", "秀气", "秀才", "福气", "祖宗", "砚台",
	"码头", "石榴", "石头", "石匠", "知识", "眼睛", "眯缝", "眨巴", "眉毛", "相声", "盘算",
	"白净", "痢疾", "痛快", "疟疾", "疙瘩", "疏忽", "畜生", "生意", "甘蔗", "琵琶", "琢磨",
	"琉璃", "玻璃", "玫瑰", "玄乎", "狐狸", "状元", "特务", "牲口", "牙碜", "牌楼", "爽快",
	"爱人", "热闹", "烧饼", "烟筒", "烂糊", "点心", "炊帚", "灯笼", "火候", "漂亮", "滑溜",
	"溜达", "温和", "清楚", "消息", "浪头", "活泼", "比方", "正经", "欺负", "模糊", "槟榔",
	"棺材", "棒槌", "棉花", "核桃", "栅栏", "柴火", "架势", "枕头", "枇杷", "机灵", "本事",
	"木头", "木匠", "朋友", "月饼", "月亮", "暖和", "明白", "时候", "新鲜", "故事", "收拾",
	"收成", "提防", "挖苦", "挑剔", "指甲", "指头", "拾掇", "拳头", "拨弄", "招牌", "招呼",
	"抬举", "护士", "折腾", "扫帚", "打量", "打算", "打点", "打扮", "打听", "打发", "扎实",
	"扁担", "戒指", "懒得", "意识", "意思", "情形", "悟性", "怪物", "思量", "怎么", "念头",
	"念叨", "快活", "忙活", "志气", "心思", "得罪", "张罗", "弟兄", "开通", "应酬", "庄稼",
	"干事", "帮手", "帐篷", "希罕", "师父", "师傅", "巴结", "巴掌", "差事", "工夫", "岁数",
	"屁股", "尾巴", "少爷", "小气", "小伙", "将就", "对头", "对付", "寡妇", "家伙", "客气",
	"实在", "官司", "学问", "学生", "字号", "嫁妆", "媳妇", "媒人", "婆家", "娘家", "委屈",
	"姑娘", "姐夫", "妯娌", "妥当", "妖精", "奴才", "女婿", "头发", "太阳", "大爷", "大方",
	"大意", "大夫", "多少", "多么", "外甥", "壮实", "地道", "地方", "在乎", "困难", "嘴巴",
	"嘱咐", "嘟囔", "嘀咕", "喜欢", "喇嘛", "喇叭", "商量", "唾沫", "哑巴", "哈欠", "哆嗦",
	"咳嗽", "和尚", "告诉", "告示", "含糊", "吓唬", "后头", "名字", "名堂", "合同", "吆喝",
	"叫唤", "口袋", "厚道", "厉害", "千斤", "包袱", "包涵", "匀称", "勤快", "动静", "动弹",
	"功夫", "力气", "前头", "刺猬", "刺激", "别扭", "利落", "利索", "利害", "分析", "出息",
	"凑合", "凉快", "冷战", "冤枉", "冒失", "养活", "关系", "先生", "兄弟", "便宜", "使唤",
	"佩服", "作坊", "体面", "位置", "似的", "伙计", "休息", "什么", "人家", "亲戚", "亲家",
	"交情", "云彩", "事情", "买卖", "主意", "丫头", "丧气", "两口", "东西", "东家", "世故",
	"不由", "不在", "下水", "下巴", "上头", "上司", "丈夫", "丈人", "一辈", "那个", "菩萨",
	"父亲", "母亲", "咕噜", "邋遢", "费用", "冤家", "甜头", "介绍", "荒唐", "大人", "泥鳅",
	"幸福", "熟悉", "计划", "扑腾", "蜡烛", "姥爷", "照顾", "喉咙", "吉他", "弄堂", "蚂蚱",
	"凤凰", "拖沓", "寒碜", "糟蹋", "倒腾", "报复", "逻辑", "盘缠", "喽啰", "牢骚", "咖喱",
	"扫把", "惦记",
}

// mustNotNeutral 不读轻声的词及逐字读音，读音随词典注册
var mustNotNeutral = map[string][]string{
	"男子": {"nan2", "zi3"},
	"女子": {"nv3", "zi3"},
	"分子": {"fen1", "zi3"},
	"原子": {"yuan2", "zi3"},
	"量子": {"liang4", "zi3"},
	"莲子": {"lian2", "zi3"},
	"石子": {"shi2", "zi3"},
	"瓜子": {"gua1", "zi3"},
	"电子": {"dian4", "zi3"},
	"人人": {"ren2", "ren2"},
	"虎虎": {"hu3", "hu3"},
}

var mustNeutral = setOf(mustNeutralWords)

const sandhiPunct = "：，；。？！“”‘’':,;.?!"

// mergeRule 变调前的分词合并规则
type mergeRule struct {
	name  string
	apply func(p *Phonemizer, ws []word) []word
}

// sandhiRule 单词内声调改写规则，原地修改 tones
type sandhiRule struct {
	name  string
	apply func(p *Phonemizer, w word, tones []Tone)
}

var mergeRules = []mergeRule{
	{"bu", mergeBu},
	{"yi", mergeYi},
	{"reduplication", mergeReduplication},
	{"three_tones", mergeThreeTones},
	{"three_tones_edge", mergeThreeTonesEdge},
	{"er", mergeEr},
}

var sandhiRules = []sandhiRule{
	{"bu", buSandhi},
	{"yi", yiSandhi},
	{"neutral", neutralSandhi},
	{"three", threeSandhi},
}

// neutralSuffix 词尾轻声规则
type neutralSuffix struct {
	chars  string   // 词尾字
	minLen int      // 最短词长
	pos    []string // 限定词性，为空不限
	prev   string   // 限定倒数第二个字
	guard  bool     // 跳过不读轻声的词
}

var neutralSuffixes = []neutralSuffix{
	{chars: "吧呢啊呐噻嘛吖嗨呐哦哒额滴哩哟喽啰耶喔诶"},
	{chars: "的地得"},
	{chars: "们子", minLen: 2, pos: []string{"r", "n"}, guard: true},
	{chars: "上下里", minLen: 2, pos: []string{"s", "l", "f"}},
	{chars: "来去", minLen: 2, prev: "上下进出回过起开"},
}

func (r neutralSuffix) match(w word, rs []rune) bool {
	n := len(rs)
	if n == 0 || n < r.minLen || !strings.ContainsRune(r.chars, rs[n-1]) {
		return false
	}
	if len(r.pos) > 0 && !slices.Contains(r.pos, w.pos) {
		return false
	}
	if r.prev != "" && (n < 2 || !strings.ContainsRune(r.prev, rs[n-2])) {
		return false
	}
	if r.guard {
		if _, ok := mustNotNeutral[w.text]; ok {
			return false
		}
	}
	return true
}

// 量词“个”前的字
const gePrefixes = "几有两半多各整每做是"

// modifyTones 依次应用变调规则
func (p *Phonemizer) modifyTones(w word) []Tone {
	tones := w.tones()
	for _, rule := range sandhiRules {
		rule.apply(p, w, tones)
	}
	return tones
}

// preMerge 依次应用合并规则
func (p *Phonemizer) preMerge(ws []word) []word {
	for _, rule := range mergeRules {
		ws = rule.apply(p, ws)
	}
	return ws
}

func allThree(tones []Tone) bool {
	for _, t := range tones {
		if t != Tone3 {
			return false
		}
	}
	return true
}

func isReduplication(text string) bool {
	rs := []rune(text)
	return len(rs) == 2 && rs[0] == rs[1]
}

func buSandhi(_ *Phonemizer, w word, tones []Tone) {
	rs := w.runes()
	if len(rs) == 3 && rs[1] == '不' {
		// 看不懂
		tones[1] = ToneNeutral
		return
	}
	for i := 0; i+1 < len(rs); i++ {
		if rs[i] == '不' && tones[i+1] == Tone4 {
			tones[i] = Tone2
		}
	}
}

func yiSandhi(_ *Phonemizer, w word, tones []Tone) {
	rs := w.runes()
	if !slices.Contains(rs, '一') {
		return
	}
	digits := true
	for _, r := range rs {
		if r != '一' && (r < '0' || r > '9') {
			digits = false
			break
		}
	}
	if digits {
		return
	}
	switch {
	case len(rs) == 3 && rs[1] == '一' && rs[0] == rs[2]:
		// 看一看
		tones[1] = ToneNeutral
		return
	case strings.HasPrefix(w.text, "第一"):
		tones[1] = Tone1
		return
	}
	for i := 0; i+1 < len(rs); i++ {
		if rs[i] != '一' {
			continue
		}
		if tones[i+1] == Tone4 {
			tones[i] = Tone2
		} else if !strings.ContainsRune(sandhiPunct, rs[i+1]) {
			tones[i] = Tone4
		}
	}
}

func neutralSandhi(p *Phonemizer, w word, tones []Tone) {
	rs := w.runes()
	n := len(rs)
	if n == 0 {
		return
	}

	// 名词、动词、形容词叠词: 奶奶、试试
	if _, protected := mustNotNeutral[w.text]; !protected && w.pos != "" && strings.ContainsRune("nva", rune(w.pos[0])) {
		for j := 1; j < n; j++ {
			if rs[j] == rs[j-1] {
				tones[j] = ToneNeutral
			}
		}
	}

	suffixHit := false
	for _, rule := range neutralSuffixes {
		if rule.match(w, rs) {
			suffixHit = true
			break
		}
	}

	switch ge := slices.Index(rs, '个'); {
	case suffixHit:
		tones[n-1] = ToneNeutral
	case ge >= 1 && isGePrefix(rs[ge-1]), w.text == "个":
		tones[max(ge, 0)] = ToneNeutral
	case endsNeutral(rs):
		tones[n-1] = ToneNeutral
	}

	parts := p.splitWord(w.text)
	if len(parts) != 2 || parts[1] == "" {
		return
	}
	first := utf8.RuneCountInString(parts[0])
	if first > len(tones) {
		return
	}
	if endsNeutral([]rune(parts[0])) {
		tones[first-1] = ToneNeutral
	}
	if endsNeutral([]rune(parts[1])) {
		tones[len(tones)-1] = ToneNeutral
	}
}

func isGePrefix(r rune) bool {
	return (r >= '0' && r <= '9') || strings.ContainsRune(gePrefixes, r)
}

// endsNeutral 整词或末两字在必读轻声词表中
func endsNeutral(rs []rune) bool {
	if _, ok := mustNeutral[string(rs)]; ok {
		return true
	}
	if len(rs) >= 2 {
		_, ok := mustNeutral[string(rs[len(rs)-2:])]
		return ok
	}
	return false
}

func threeSandhi(p *Phonemizer, w word, tones []Tone) {
	switch len(tones) {
	case 2:
		if allThree(tones) {
			tones[0] = Tone2
		}
	case 3:
		parts := p.splitWord(w.text)
		first := utf8.RuneCountInString(parts[0])
		if allThree(tones) {
			switch first {
			case 2:
				// 双音节 + 单音节: 展览馆
				tones[0], tones[1] = Tone2, Tone2
			case 1:
				// 单音节 + 双音节: 纸老虎
				tones[1] = Tone2
			}
			return
		}
		if first >= len(tones) {
			return
		}
		head, tail := tones[:first], tones[first:]
		if len(head) == 2 && allThree(head) {
			head[0] = Tone2
		}
		if len(tail) == 2 && allThree(tail) {
			tail[0] = Tone2
		} else if !allThree(tail) && tail[0] == Tone3 && head[len(head)-1] == Tone3 {
			head[len(head)-1] = Tone2
		}
	case 4:
		// 四字成语按 2+2 处理
		for _, half := range [][]Tone{tones[:2], tones[2:]} {
			if allThree(half) {
				half[0] = Tone2
			}
		}
	}
}

// splitWord 取词内最短的子词，将词切分为两部分
func (p *Phonemizer) splitWord(text string) []string {
	subs := p.cutForSearch(text)
	if len(subs) == 0 {
		return []string{text, ""}
	}
	slices.SortStableFunc(subs, func(a, b string) int {
		return utf8.RuneCountInString(a) - utf8.RuneCountInString(b)
	})
	shortest := subs[0]
	switch idx := strings.Index(text, shortest); {
	case idx == 0:
		return []string{shortest, text[len(shortest):]}
	case idx > 0:
		return []string{text[:len(text)-len(shortest)], shortest}
	}
	return []string{text, ""}
}

func mergeBu(_ *Phonemizer, ws []word) []word {
	out := make([]word, 0, len(ws))
	var pending *word
	for _, w := range ws {
		if pending != nil {
			w = concat(*pending, w)
			pending = nil
		}
		if w.text == "不" {
			bu := w
			pending = &bu
			continue
		}
		out = append(out, w)
	}
	if pending != nil {
		pending.pos = "d"
		out = append(out, *pending)
	}
	return out
}

func mergeYi(_ *Phonemizer, ws []word) []word {
	out := make([]word, 0, len(ws))
	// 动词重叠: 看 一 看
	for i := 0; i < len(ws); i++ {
		w := ws[i]
		if i >= 1 && i+1 < len(ws) && w.text == "一" && len(out) > 0 &&
			ws[i-1].text == ws[i+1].text && ws[i-1].pos == "v" {
			last := &out[len(out)-1]
			*last = concat(concat(*last, w), ws[i+1])
			i++
			continue
		}
		out = append(out, w)
	}

	// 单独的“一”与后面的词合并
	merged := make([]word, 0, len(out))
	for _, w := range out {
		if n := len(merged); n > 0 && merged[n-1].text == "一" {
			merged[n-1] = concat(merged[n-1], w)
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func mergeReduplication(_ *Phonemizer, ws []word) []word {
	out := make([]word, 0, len(ws))
	for _, w := range ws {
		if n := len(out); n > 0 && out[n-1].text == w.text {
			out[n-1] = concat(out[n-1], w)
			continue
		}
		out = append(out, w)
	}
	return out
}

// mergeAdjacent 满足 join 条件的相邻词合并，合并后总长不超过 3 个字
func mergeAdjacent(ws []word, join func(prev, cur word) bool) []word {
	out := make([]word, 0, len(ws))
	merged := make([]bool, len(ws))
	for i, w := range ws {
		if i >= 1 && !merged[i-1] && join(ws[i-1], w) {
			last := &out[len(out)-1]
			if !isReduplication(last.text) && utf8.RuneCountInString(last.text)+utf8.RuneCountInString(w.text) <= 3 {
				*last = concat(*last, w)
				merged[i] = true
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

func mergeThreeTones(_ *Phonemizer, ws []word) []word {
	return mergeAdjacent(ws, func(prev, cur word) bool {
		return allResolvedThree(prev) && allResolvedThree(cur)
	})
}

func mergeThreeTonesEdge(_ *Phonemizer, ws []word) []word {
	return mergeAdjacent(ws, func(prev, cur word) bool {
		return len(prev.syl) > 0 && len(cur.syl) > 0 &&
			prev.syl[len(prev.syl)-1].tone == Tone3 && cur.syl[0].tone == Tone3
	})
}

func allResolvedThree(w word) bool {
	return len(w.syl) > 0 && allThree(w.tones())
}

func mergeEr(_ *Phonemizer, ws []word) []word {
	out := make([]word, 0, len(ws))
	for i, w := range ws {
		if i >= 1 && w.text == "儿" && len(out) > 0 {
			out[len(out)-1] = concat(out[len(out)-1], w)
			continue
		}
		out = append(out, w)
	}
	return out
}
