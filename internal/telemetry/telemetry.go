// Package telemetry 初始化 OpenTelemetry 链路追踪
package telemetry

import (
	"context"
	"fmt"

	"github.com/getcharzp/sbv2-speech/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config 链路追踪配置，Endpoint 为空时不导出
type Config struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// Providers 持有 TracerProvider，未启用时为空
type Providers struct {
	tp *sdktrace.TracerProvider
}

// Init 初始化 OTLP gRPC 导出并注册为全局 TracerProvider
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.Endpoint == "" {
		logger.Infof("[telemetry] 未配置 endpoint，链路追踪关闭")
		return &Providers{}, nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 trace exporter 失败: %w", err)
	}
	p, err := NewProviders(ctx, cfg, exporter)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}
	logger.Infof("[telemetry] 链路追踪导出到 %s, 采样率 %.2f", cfg.Endpoint, cfg.SampleRate)
	return p, nil
}

// NewProviders 使用给定 exporter 创建并注册 TracerProvider
func NewProviders(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (*Providers, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "sbv2-speech"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		return nil, fmt.Errorf("创建 otel resource 失败: %w", err)
	}
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Providers{tp: tp}, nil
}

// Enabled 是否导出
func (p *Providers) Enabled() bool { return p != nil && p.tp != nil }

// ForceFlush 立即导出缓冲的 span
func (p *Providers) ForceFlush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown 导出剩余 span 并关闭 exporter
func (p *Providers) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭 TracerProvider 失败: %w", err)
	}
	return nil
}
