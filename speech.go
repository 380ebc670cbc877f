// Package speech 管理 ONNX Runtime 环境与会话参数，供各引擎共用
package speech

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Provider 推理执行后端
type Provider string

const (
	ProviderCUDA     Provider = "cuda"
	ProviderCoreML   Provider = "coreml"
	ProviderDirectML Provider = "directml"
	ProviderCPU      Provider = "cpu"
)

// DefaultProviders 后端优先级，高吞吐的硬件后端在前，CPU 兜底
var DefaultProviders = []Provider{ProviderCUDA, ProviderCoreML, ProviderDirectML, ProviderCPU}

// ParseProviders 解析后端列表，如 "cuda,cpu"
func ParseProviders(names []string) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p := Provider(strings.ToLower(strings.TrimSpace(name)))
		switch p {
		case ProviderCUDA, ProviderCoreML, ProviderDirectML, ProviderCPU:
			out = append(out, p)
		case "":
		default:
			return nil, fmt.Errorf("未知的执行后端: %s", name)
		}
	}
	if len(out) == 0 {
		return DefaultProviders, nil
	}
	return out, nil
}

// DefaultLibraryPath 按平台返回 onnxruntime 动态库的默认路径
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./lib/onnxruntime.dll"
	case "darwin":
		return "./lib/libonnxruntime.dylib"
	default:
		return "./lib/libonnxruntime.so"
	}
}

var envMu sync.Mutex

// InitEnvironment 加载动态库并初始化全局环境，重复调用无副作用
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("初始化 ONNX Runtime 失败: %w", err)
	}
	return nil
}

// DestroyEnvironment 释放全局环境，进程退出前调用
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// OnnxConfig ONNX 会话配置
type OnnxConfig struct {
	OnnxRuntimeLibPath string   // 动态库路径
	NumThreads         int      // 单个会话的线程数，0 由 ONNX Runtime 决定
	Provider           Provider // 执行后端
	DeviceID           int      // GPU 编号

	SessionOptions *ort.SessionOptions
}

// New 初始化环境并创建会话参数
func (c *OnnxConfig) New() error {
	if err := InitEnvironment(c.OnnxRuntimeLibPath); err != nil {
		return err
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建 SessionOptions 失败: %w", err)
	}
	if c.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(c.NumThreads); err != nil {
			opts.Destroy()
			return fmt.Errorf("设置线程数失败: %w", err)
		}
		if err := opts.SetInterOpNumThreads(1); err != nil {
			opts.Destroy()
			return fmt.Errorf("设置线程数失败: %w", err)
		}
	}
	if err := appendProvider(opts, c.Provider, c.DeviceID); err != nil {
		opts.Destroy()
		return err
	}
	c.SessionOptions = opts
	return nil
}

// Destroy 释放会话参数
func (c *OnnxConfig) Destroy() error {
	if c.SessionOptions == nil {
		return nil
	}
	err := c.SessionOptions.Destroy()
	c.SessionOptions = nil
	return err
}

func appendProvider(opts *ort.SessionOptions, p Provider, deviceID int) error {
	switch p {
	case ProviderCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("创建 CUDA 参数失败: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			return fmt.Errorf("设置 CUDA 参数失败: %w", err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return fmt.Errorf("启用 CUDA 失败: %w", err)
		}
	case ProviderCoreML:
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("启用 CoreML 失败: %w", err)
		}
	case ProviderDirectML:
		if err := opts.AppendExecutionProviderDirectML(deviceID); err != nil {
			return fmt.Errorf("启用 DirectML 失败: %w", err)
		}
	case ProviderCPU, "":
	default:
		return fmt.Errorf("未知的执行后端: %s", p)
	}
	return nil
}
