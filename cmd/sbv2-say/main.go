// sbv2-say 命令行合成一段文本并保存为音频文件
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/audio"
	"github.com/getcharzp/sbv2-speech/internal/config"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/up-zero/gotool/fileutil"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径")
		text       = flag.String("text", "", "待合成文本，为空时从标准输入读取")
		out        = flag.String("out", "output.wav", "输出文件")
		voice      = flag.String("voice", "", "风格名")
		speaker    = flag.String("speaker", "", "说话人")
		format     = flag.String("format", "", "wav 或 mp3，为空时按输出文件后缀判断")
		speed      = flag.Float64("speed", 1.0, "语速")
	)
	flag.Parse()

	if err := run(*configPath, *text, *out, *voice, *speaker, *format, float32(*speed)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, text, out, voice, speaker, format string, speed float32) error {
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
	defer logger.Sync()

	if text == "" {
		data, err := readStdin()
		if err != nil {
			return err
		}
		text = data
	}
	if format == "" && strings.HasSuffix(strings.ToLower(out), ".mp3") {
		format = string(audio.FormatMP3)
	}
	f, err := audio.ParseFormat(format)
	if err != nil {
		return err
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	engineCfg.PoolSize = 1

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine, err := sbv2.NewEngine(ctx, engineCfg)
	if err != nil {
		return err
	}
	defer speech.DestroyEnvironment()
	defer engine.Destroy(context.Background())

	req := engine.NewRequest(text)
	if speaker != "" {
		req.Speaker = speaker
	}
	if voice != "" {
		req.Style = voice
	}
	if err := req.SetSpeed(speed); err != nil {
		return err
	}

	start := time.Now()
	res, err := engine.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("合成失败: %w", err)
	}
	enc, err := audio.Encode(res.Samples, res.SampleRate, f)
	if err != nil {
		return err
	}
	if err := fileutil.FileSave(out, enc.Data); err != nil {
		return fmt.Errorf("保存音频失败: %w", err)
	}
	logger.Infof("已保存 %s, 时长 %v, 耗时 %v (推理 %v)", out, res.Duration().Round(time.Millisecond), time.Since(start).Round(time.Millisecond), res.Infer.Round(time.Millisecond))
	return nil
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("读取标准输入失败: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
