// Package server OpenAI 风格的语音合成 HTTP 接口
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/internal/config"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/internal/metrics"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Synthesizer 合成引擎，*sbv2.Engine 实现该接口
type Synthesizer interface {
	NewRequest(text string) *sbv2.Request
	Synthesize(ctx context.Context, req *sbv2.Request) (*sbv2.Result, error)
	Observe(ctx context.Context, stage string, fn func(context.Context) error) error
	SampleRate() int
	Speakers() []string
	Styles() []string
	Provider() speech.Provider
	PoolSize() int
}

var _ Synthesizer = (*sbv2.Engine)(nil)

// Options 服务参数
type Options struct {
	Engine   Synthesizer
	Config   config.ServerConfig
	Metrics  *metrics.Metrics    // 可选
	Gatherer prometheus.Gatherer // 可选, 默认 prometheus.DefaultGatherer
}

// Server HTTP 服务
type Server struct {
	opts   Options
	router *gin.Engine
	http   *http.Server
	log    *zap.Logger
}

// New 创建服务并注册路由
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server 需要合成引擎")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if logger.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{opts: opts, log: logger.Named("http")}
	r := gin.New()
	r.Use(gin.CustomRecovery(s.recovery))
	r.Use(requestID())
	r.Use(s.accessLog())
	r.Use(cors.New(corsConfig(opts.Config.CORSOrigins)))

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/metadata", s.metadata)
	v1.POST("/audio/speech", rateLimit(opts.Config.RateLimit, opts.Config.Burst), s.speech)

	s.router = r
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", headerRequestID},
		ExposeHeaders: []string{"Content-Length", headerRequestID, headerSampleRate},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler 返回 http.Handler，测试与自定义监听时使用
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe 阻塞直到服务关闭
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              s.opts.Config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", s.opts.Config.Listen))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收新请求并等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type metadataResponse struct {
	Voices     []string `json:"voices"`
	Styles     []string `json:"styles"`
	SampleRate int      `json:"sample_rate"`
	Provider   string   `json:"provider"`
	PoolSize   int      `json:"pool_size"`
}

func (s *Server) metadata(c *gin.Context) {
	e := s.opts.Engine
	c.JSON(http.StatusOK, metadataResponse{
		Voices:     e.Speakers(),
		Styles:     e.Styles(),
		SampleRate: e.SampleRate(),
		Provider:   string(e.Provider()),
		PoolSize:   e.PoolSize(),
	})
}
