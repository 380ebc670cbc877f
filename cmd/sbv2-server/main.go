// sbv2-server 启动语音合成 HTTP 服务
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/internal/config"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/internal/metrics"
	"github.com/getcharzp/sbv2-speech/internal/telemetry"
	"github.com/getcharzp/sbv2-speech/server"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，为空使用默认配置")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)

	start := time.Now()
	engine, err := sbv2.NewEngine(ctx, engineCfg, sbv2.WithObserver(m))
	if err != nil {
		return fmt.Errorf("加载模型失败: %w", err)
	}
	defer func() {
		if err := speech.DestroyEnvironment(); err != nil {
			log.Warn("destroy onnxruntime environment", zap.Error(err))
		}
	}()
	log.Info("engine ready",
		zap.String("provider", string(engine.Provider())),
		zap.Int("pool", engine.PoolSize()),
		zap.Strings("voices", engine.Speakers()),
		zap.Strings("styles", engine.Styles()),
		zap.Duration("load", time.Since(start)))

	srv, err := server.New(server.Options{
		Engine:   engine,
		Config:   cfg.Server,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
	defer cancel()
	err = errors.Join(err, srv.Shutdown(sctx), engine.Destroy(sctx))
	return err
}
