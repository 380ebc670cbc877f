package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/audio"
	"github.com/getcharzp/sbv2-speech/internal/config"
	"github.com/getcharzp/sbv2-speech/internal/metrics"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/getcharzp/sbv2-speech/ttserr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	last     *sbv2.Request
	calls    int
	stages   []string
	err      error
	panicMsg string
	samples  []float32
}

func (f *fakeEngine) NewRequest(text string) *sbv2.Request {
	return sbv2.DefaultConfig().NewRequest(text)
}

func (f *fakeEngine) Synthesize(ctx context.Context, req *sbv2.Request) (*sbv2.Result, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	samples := f.samples
	if samples == nil {
		samples = make([]float32, 4410)
	}
	return &sbv2.Result{Samples: samples, SampleRate: 44100, Provider: speech.ProviderCPU}, nil
}

func (f *fakeEngine) Observe(ctx context.Context, stage string, fn func(context.Context) error) error {
	f.mu.Lock()
	f.stages = append(f.stages, stage)
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeEngine) SampleRate() int { return 44100 }

func (f *fakeEngine) Speakers() []string { return []string{"xiaoming", "xiaohong"} }

func (f *fakeEngine) Styles() []string { return []string{"Neutral", "Happy"} }

func (f *fakeEngine) Provider() speech.Provider { return speech.ProviderCPU }

func (f *fakeEngine) PoolSize() int { return 2 }

func (f *fakeEngine) lastRequest() *sbv2.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newTestServer(t *testing.T, eng *fakeEngine, mutate func(*config.ServerConfig)) (*Server, *prometheus.Registry) {
	t.Helper()
	cfg := config.Default().Server
	if mutate != nil {
		mutate(&cfg)
	}
	reg := prometheus.NewRegistry()
	s, err := New(Options{Engine: eng, Config: cfg, Metrics: metrics.New(reg), Gatherer: reg})
	require.NoError(t, err)
	return s, reg
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf []byte
	switch v := body.(type) {
	case string:
		buf = []byte(v)
	default:
		var err error
		buf, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body struct {
		Error errorPayload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

func TestSpeechWav(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, nil)

	w := post(t, s.Handler(), map[string]any{"model": "sbv2", "input": "你好，世界！", "voice": "Happy"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "44100", w.Header().Get(headerSampleRate))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
	assert.Equal(t, 44+4410*2, w.Body.Len())
	assert.Equal(t, "RIFF", w.Body.String()[:4])
	assert.Equal(t, []string{sbv2.StageEncode}, eng.stages)

	req := eng.lastRequest()
	assert.Equal(t, "你好，世界！", req.Text)
	assert.Equal(t, "Happy", req.Style)
	assert.Equal(t, float32(sbv2.DefaultLengthScale), req.LengthScale)
}

func TestSpeechRequestMapping(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, nil)

	w := post(t, s.Handler(), map[string]any{
		"input":              "测试",
		"style":              "Happy",
		"speed":              2,
		"noise":              0.3,
		"noise_w":            0.5,
		"sdp_ratio":          0.7,
		"style_weight":       0.4,
		"speaker":            "xiaohong",
		"assist_text":        "开心",
		"assist_text_weight": 0.6,
		"style_blend":        map[string]any{"a": "Neutral", "b": "Happy", "ratio": 0.25},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := eng.lastRequest()
	assert.Equal(t, "Happy", req.Style)
	assert.InDelta(t, 0.5, req.LengthScale, 1e-6)
	assert.InDelta(t, 0.3, req.Noise, 1e-6)
	assert.InDelta(t, 0.5, req.NoiseW, 1e-6)
	assert.InDelta(t, 0.7, req.SDPRatio, 1e-6)
	assert.InDelta(t, 0.4, req.StyleWeight, 1e-6)
	assert.Equal(t, "xiaohong", req.Speaker)
	assert.Equal(t, "开心", req.AssistText)
	assert.InDelta(t, 0.6, req.AssistWeight, 1e-6)
	require.NotNil(t, req.Blend)
	assert.Equal(t, sbv2.StyleBlend{A: "Neutral", B: "Happy", Ratio: 0.25}, *req.Blend)
}

func TestSpeechLengthScaleWinsOverSpeed(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, nil)

	w := post(t, s.Handler(), map[string]any{"input": "测试", "speed": 2, "length_scale": 1.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1.5, eng.lastRequest().LengthScale, 1e-6)
}

func TestSpeechErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		err    error
		status int
		typ    string
		called bool
	}{
		{name: "malformed json", body: "{", status: 400, typ: "invalid_input"},
		{name: "empty input", body: map[string]any{"input": "  "}, status: 400, typ: "invalid_input", called: true},
		{name: "zero speed", body: map[string]any{"input": "你好", "speed": 0}, status: 400, typ: "invalid_input"},
		{name: "style weight", body: map[string]any{"input": "你好", "style_weight": 1.5}, status: 400, typ: "invalid_input", called: true},
		{name: "unknown format", body: map[string]any{"input": "你好", "response_format": "flac"}, status: 400, typ: "invalid_input"},
		{name: "too long", body: map[string]any{"input": strings.Repeat("长", 11)}, status: 400, typ: "input_too_long"},
		{
			name: "unknown segment", body: map[string]any{"input": "你好"}, status: 400, typ: "unknown_segment", called: true,
			err: ttserr.New(ttserr.UnknownSegment, "g2p", "无法转换: 㐀"),
		},
		{
			name: "pool exhausted", body: map[string]any{"input": "你好"}, status: 503, typ: "pool_exhausted", called: true,
			err: ttserr.New(ttserr.PoolExhausted, "pool", "没有空闲会话"),
		},
		{
			name: "inference", body: map[string]any{"input": "你好"}, status: 500, typ: "inference_error", called: true,
			err: ttserr.New(ttserr.InferenceError, "infer", "run 失败"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{err: tt.err}
			s, _ := newTestServer(t, eng, func(c *config.ServerConfig) { c.MaxInputRunes = 10 })

			w := post(t, s.Handler(), tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			e := decodeError(t, w)
			assert.Equal(t, tt.typ, e.Type)
			assert.NotEmpty(t, e.Message)
			assert.Equal(t, tt.called, eng.calls > 0)
		})
	}
}

func TestSpeechMP3Unavailable(t *testing.T) {
	if audio.MP3Available {
		t.Skip("built with lame")
	}
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, nil)

	w := post(t, s.Handler(), map[string]any{"input": "你好", "response_format": "mp3"})
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "encoding_unavailable", decodeError(t, w).Type)
	assert.Zero(t, eng.calls)
}

func TestSpeechBodyLimit(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, func(c *config.ServerConfig) { c.MaxBodyBytes = 32 })

	w := post(t, s.Handler(), map[string]any{"input": strings.Repeat("a", 64)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, eng.calls)
}

func TestSpeechPanicRecovered(t *testing.T) {
	eng := &fakeEngine{panicMsg: "boom"}
	s, reg := newTestServer(t, eng, nil)

	w := post(t, s.Handler(), map[string]any{"input": "你好"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "inference_error", decodeError(t, w).Type)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "sbv2_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" && l.GetValue() == "500" {
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestRateLimit(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newTestServer(t, eng, func(c *config.ServerConfig) {
		c.RateLimit = 0.001
		c.Burst = 1
	})

	first := post(t, s.Handler(), map[string]any{"input": "你好"})
	assert.Equal(t, http.StatusOK, first.Code)
	second := post(t, s.Handler(), map[string]any{"input": "你好"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate_limited", decodeError(t, second).Type)
	assert.Equal(t, 1, eng.calls)
}

func TestRequestIDPropagated(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(headerRequestID))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetadata(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metadata", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"voices": ["xiaoming", "xiaohong"],
		"styles": ["Neutral", "Happy"],
		"sample_rate": 44100,
		"provider": "cpu",
		"pool_size": 2
	}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{}, nil)
	require.Equal(t, http.StatusOK, post(t, s.Handler(), map[string]any{"input": "你好"}).Code)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sbv2_requests_total{code="200",format="wav"} 1`)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{}, func(c *config.ServerConfig) {
		c.CORSOrigins = []string{"https://app.example.org"}
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/audio/speech", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w
	}

	w := preflight("https://app.example.org")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("https://evil.example.net")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdownWithoutListen(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
