// Package metrics 合成服务的 Prometheus 指标
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sbv2"

// Metrics 指标集合，实现 sbv2.Observer
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	poolWait      prometheus.Histogram
	poolInUse     prometheus.Gauge
	poolExhausted prometheus.Counter
	phonemes      prometheus.Histogram
}

// New 在 reg 上注册指标，reg 为 nil 时使用默认 Registerer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Speech requests by response format and status code",
		}, []string{"format", "code"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"stage"}),
		poolWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_wait_seconds",
			Help:      "Time spent waiting for an idle inference session",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		}),
		poolInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use",
			Help:      "Inference sessions currently checked out",
		}),
		poolExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Checkouts that timed out waiting for a session",
		}),
		phonemes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phonemes_per_request",
			Help:      "Phoneme sequence length fed to the synthesis model",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 8),
		}),
	}
}

// RecordRequest 记录一次请求结果
func (m *Metrics) RecordRequest(format string, code int) {
	m.requestsTotal.WithLabelValues(format, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObservePhonemes(n int) { m.phonemes.Observe(float64(n)) }

func (m *Metrics) ObservePoolWait(d time.Duration) { m.poolWait.Observe(d.Seconds()) }

func (m *Metrics) SetPoolInUse(n int) { m.poolInUse.Set(float64(n)) }

func (m *Metrics) PoolExhausted() { m.poolExhausted.Inc() }
