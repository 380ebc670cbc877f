package sbv2

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/nlp/bert"
	"github.com/getcharzp/sbv2-speech/nlp/g2p"
	"github.com/getcharzp/sbv2-speech/tts/style"
	"github.com/stretchr/testify/require"
)

const (
	testHop          = 512
	testFramesPerPh  = 4
	testHidden       = 8
	testHyperParams  = `{"model_name":"test","version":"2.4","data":{"sampling_rate":44100,"add_blank":true,"spk2id":{"xiaoming":0,"xiaohong":1},"style2id":{"Neutral":0,"Happy":1}}}`
	testVocabContent = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n你\n好\n世\n界\n,\n!\n"
)

// fakeSession 模拟合成模型，按音素数和 length_scale 生成波形
type fakeSession struct {
	id     int
	busy   atomic.Int32
	calls  atomic.Int32
	closed atomic.Bool
	// overlap 同一会话被并发使用时置位
	overlap *atomic.Bool
	delay   time.Duration
	run     func(in *Inputs) ([]float32, error)
}

func (s *fakeSession) Run(in *Inputs) ([]float32, error) {
	if s.busy.Add(1) != 1 && s.overlap != nil {
		s.overlap.Store(true)
	}
	defer s.busy.Add(-1)
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.run != nil {
		return s.run(in)
	}
	n := int(float32(in.Len()*testFramesPerPh*testHop) * in.LengthScale)
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.25 * float32(i%100-50) / 50
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeFactory 记录每次创建的会话，fail 中的后端创建失败
type fakeFactory struct {
	mu       sync.Mutex
	fail     map[speech.Provider]bool
	failNth  int // 第 n 次创建失败，0 表示不失败
	opened   []speech.Provider
	sessions []*fakeSession
	overlap  atomic.Bool
	delay    time.Duration
	run      func(in *Inputs) ([]float32, error)
}

func (f *fakeFactory) Open(p speech.Provider) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, p)
	if f.fail[p] {
		return nil, errors.New("provider unavailable")
	}
	if f.failNth > 0 && len(f.opened) == f.failNth {
		return nil, errors.New("out of memory")
	}
	s := &fakeSession{id: len(f.sessions), overlap: &f.overlap, delay: f.delay, run: f.run}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		n += int(s.calls.Load())
	}
	return n
}

// fakeLM 每个 token 一行，第一列为 token id
type fakeLM struct {
	calls atomic.Int32
}

func (m *fakeLM) Forward(_ context.Context, ids []int64) ([]float32, int, error) {
	m.calls.Add(1)
	feats := make([]float32, len(ids)*testHidden)
	for i, id := range ids {
		feats[i*testHidden] = float32(id)
		feats[i*testHidden+1] = 1
	}
	return feats, testHidden, nil
}

func (m *fakeLM) Close() error { return nil }

// recorder 记录指标回调
type recorder struct {
	mu        sync.Mutex
	stages    map[string]int
	phonemes  []int
	waits     int
	exhausted int
	maxInUse  int
}

func newRecorder() *recorder { return &recorder{stages: map[string]int{}} }

func (r *recorder) ObservePoolWait(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
}

func (r *recorder) SetPoolInUse(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxInUse = max(r.maxInUse, n)
}

func (r *recorder) PoolExhausted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
}

func (r *recorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage]++
}

func (r *recorder) ObservePhonemes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phonemes = append(r.phonemes, n)
}

func newTestPool(t testing.TB, f *fakeFactory, size int, wait time.Duration) *Pool {
	t.Helper()
	p, err := NewPool(context.Background(), f, PoolConfig{Providers: []speech.Provider{speech.ProviderCPU}, Size: size, Wait: wait})
	require.NoError(t, err)
	return p
}

func testHyper(t testing.TB) *HyperParameters {
	t.Helper()
	hp, err := ParseHyperParameters([]byte(testHyperParams))
	require.NoError(t, err)
	return hp
}

func testStyles(t testing.TB) *style.Store {
	t.Helper()
	s, err := style.New([][]float32{{0, 0, 0}, {1, 2, 3}}, map[string]int{"Neutral": 0, "Happy": 1}, "Neutral")
	require.NoError(t, err)
	return s
}

type testEngine struct {
	*Engine
	factory *fakeFactory
	lm      *fakeLM
	obs     *recorder
}

func newTestEngine(t testing.TB, cfg Config, f *fakeFactory, maxSeqLen int) *testEngine {
	t.Helper()
	if f == nil {
		f = &fakeFactory{}
	}
	tok, err := bert.NewTokenizer(strings.NewReader(testVocabContent), true)
	require.NoError(t, err)
	lm := &fakeLM{}
	enc, err := bert.NewEncoder(tok, lm, maxSeqLen)
	require.NoError(t, err)
	dict, err := g2p.NewDictionary()
	require.NoError(t, err)

	obs := newRecorder()
	pool, err := NewPool(context.Background(), f, PoolConfig{Size: 2, Wait: 100 * time.Millisecond, Observer: obs})
	require.NoError(t, err)

	e, err := Assemble(cfg, Components{
		Hyper:      testHyper(t),
		Phonemizer: g2p.New(dict, g2p.WithStrict(cfg.Strict)),
		Encoder:    enc,
		Styles:     testStyles(t),
		Pool:       pool,
	}, WithObserver(obs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Destroy(context.Background()) })
	return &testEngine{Engine: e, factory: f, lm: lm, obs: obs}
}

// nihaoSequence "你" 的音素序列
func nihaoSequence() *g2p.Sequence {
	return &g2p.Sequence{
		Units: []g2p.Unit{
			{Phone: g2p.Pad},
			{Phone: "n", Tone: g2p.Tone3, WordStart: true},
			{Phone: "i", Tone: g2p.Tone3},
			{Phone: g2p.Pad},
		},
		Word2Ph:   []int{1, 2, 1},
		Graphemes: []string{"你"},
	}
}

func embeddingFor(rows, hidden int) *bert.Embedding {
	return &bert.Embedding{Rows: rows, Hidden: hidden, Data: make([]float32, rows*hidden)}
}
