package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// L 全局 SugaredLogger
	L *zap.SugaredLogger
	// Z 全局 zap.Logger，热路径上使用
	Z *zap.Logger

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	rotor *lumberjack.Logger
)

func init() {
	// Init 之前不输出任何内容，单元测试保持安静
	Z = zap.NewNop()
	L = Z.Sugar()
}

// Config 日志配置
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	File       string `yaml:"file"`        // 为空则只输出到 stderr
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxBackups int    `yaml:"max_backups"` // 保留的旧文件数量
	MaxAge     int    `yaml:"max_age"`     // 天
}

// ParseLevel 解析日志级别字符串，空字符串为 info
func ParseLevel(s string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("不支持的日志级别: %w", err)
	}
	return lvl, nil
}

// Init 根据配置初始化全局 logger
func Init(cfg Config) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	if rotor != nil {
		_ = rotor.Close()
		rotor = nil
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		rotor = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSize, 64),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			Compress:   true,
		}
		output = io.MultiWriter(os.Stderr, rotor)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(output), level)
	Z = zap.New(core, zap.AddCallerSkip(1))
	L = Z.Sugar()
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// IsDebug 当前是否为 debug 级别
func IsDebug() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Named 返回带组件名的子 logger
func Named(name string) *zap.Logger {
	return Z.Named(name).WithOptions(zap.AddCallerSkip(-1))
}

// Sync 刷新缓冲区并关闭日志文件，程序退出前调用
func Sync() {
	if Z != nil {
		_ = Z.Sync()
	}
	if rotor != nil {
		_ = rotor.Close()
	}
}

func Debugf(template string, args ...any) { L.Debugf(template, args...) }

func Infof(template string, args ...any) { L.Infof(template, args...) }

func Warnf(template string, args ...any) { L.Warnf(template, args...) }

func Errorf(template string, args ...any) { L.Errorf(template, args...) }
