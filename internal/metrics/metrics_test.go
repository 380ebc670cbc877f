package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ sbv2.Observer = (*Metrics)(nil)

func TestRecordRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordRequest("wav", 200)
	m.RecordRequest("wav", 200)
	m.RecordRequest("mp3", 415)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("wav", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("mp3", "415")))
}

func TestPoolMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetPoolInUse(3)
	m.SetPoolInUse(1)
	m.PoolExhausted()
	m.ObservePoolWait(10 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolExhausted))
	assert.Equal(t, 1, testutil.CollectAndCount(m.poolWait))
}

func TestExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveStage(sbv2.StageInfer, 200*time.Millisecond)
	m.ObservePhonemes(25)

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP sbv2_phonemes_per_request Phoneme sequence length fed to the synthesis model
# TYPE sbv2_phonemes_per_request histogram
sbv2_phonemes_per_request_bucket{le="8"} 0
sbv2_phonemes_per_request_bucket{le="16"} 0
sbv2_phonemes_per_request_bucket{le="32"} 1
sbv2_phonemes_per_request_bucket{le="64"} 1
sbv2_phonemes_per_request_bucket{le="128"} 1
sbv2_phonemes_per_request_bucket{le="256"} 1
sbv2_phonemes_per_request_bucket{le="512"} 1
sbv2_phonemes_per_request_bucket{le="1024"} 1
sbv2_phonemes_per_request_bucket{le="+Inf"} 1
sbv2_phonemes_per_request_sum 25
sbv2_phonemes_per_request_count 1
`), "sbv2_phonemes_per_request")
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
