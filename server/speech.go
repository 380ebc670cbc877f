package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/getcharzp/sbv2-speech/audio"
	"github.com/getcharzp/sbv2-speech/tts/sbv2"
	"github.com/getcharzp/sbv2-speech/ttserr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type styleBlend struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Ratio float32 `json:"ratio"`
}

type speechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"` // 风格名
	Style          string   `json:"style"` // voice 的别名
	ResponseFormat string   `json:"response_format"`
	Speed          *float32 `json:"speed"`
	LengthScale    *float32 `json:"length_scale"`

	Noise            *float32    `json:"noise"`
	NoiseW           *float32    `json:"noise_w"`
	SDPRatio         *float32    `json:"sdp_ratio"`
	StyleWeight      *float32    `json:"style_weight"`
	Speaker          string      `json:"speaker"`
	AssistText       string      `json:"assist_text"`
	AssistTextWeight *float32    `json:"assist_text_weight"`
	StyleBlend       *styleBlend `json:"style_blend"`
}

type errorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func errorBody(message, typ string) gin.H {
	return gin.H{"error": errorPayload{Message: message, Type: typ}}
}

// speech POST /v1/audio/speech
func (s *Server) speech(c *gin.Context) {
	const op = "server.speech"
	format := "unknown"
	status := http.StatusInternalServerError
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordRequest(format, status)
		}
	}()
	fail := func(err error) {
		status = s.writeError(c, err)
	}

	if s.opts.Config.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.Config.MaxBodyBytes)
	}
	var body speechRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(ttserr.New(ttserr.InvalidInput, op, "请求体解析失败: %v", err))
		return
	}
	f, err := audio.ParseFormat(body.ResponseFormat)
	if err != nil {
		fail(err)
		return
	}
	format = string(f)
	if f == audio.FormatMP3 && !audio.MP3Available {
		fail(ttserr.New(ttserr.EncodingUnavailable, op, "当前构建不支持 mp3 输出"))
		return
	}
	if n := s.opts.Config.MaxInputRunes; n > 0 && utf8.RuneCountInString(body.Input) > n {
		fail(ttserr.New(ttserr.InputTooLong, op, "输入超过 %d 个字符", n))
		return
	}

	req, err := s.buildRequest(&body)
	if err != nil {
		fail(err)
		return
	}

	ctx := c.Request.Context()
	if d := s.opts.Config.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	res, err := s.opts.Engine.Synthesize(ctx, req)
	if err != nil {
		fail(err)
		return
	}

	var enc *audio.Encoded
	err = s.opts.Engine.Observe(ctx, sbv2.StageEncode, func(context.Context) (err error) {
		enc, err = audio.Encode(res.Samples, res.SampleRate, f)
		return err
	})
	if err != nil {
		fail(err)
		return
	}
	status = http.StatusOK
	c.Header(headerSampleRate, strconv.Itoa(res.SampleRate))
	c.Data(http.StatusOK, enc.MIME, enc.Data)
}

// buildRequest 在引擎默认参数上叠加请求中出现的字段
func (s *Server) buildRequest(body *speechRequest) (*sbv2.Request, error) {
	req := s.opts.Engine.NewRequest(body.Input)
	switch {
	case body.Voice != "":
		req.Style = body.Voice
	case body.Style != "":
		req.Style = body.Style
	}
	if body.StyleBlend != nil {
		req.Blend = &sbv2.StyleBlend{A: body.StyleBlend.A, B: body.StyleBlend.B, Ratio: body.StyleBlend.Ratio}
	}
	if body.Speaker != "" {
		req.Speaker = body.Speaker
	}
	req.AssistText = body.AssistText

	if body.LengthScale != nil {
		req.LengthScale = *body.LengthScale
	} else if body.Speed != nil {
		if err := req.SetSpeed(*body.Speed); err != nil {
			return nil, err
		}
	}
	setIf(&req.Noise, body.Noise)
	setIf(&req.NoiseW, body.NoiseW)
	setIf(&req.SDPRatio, body.SDPRatio)
	setIf(&req.StyleWeight, body.StyleWeight)
	setIf(&req.AssistWeight, body.AssistTextWeight)
	return req, nil
}

func setIf(dst *float32, v *float32) {
	if v != nil {
		*dst = *v
	}
}

// writeError 按错误类别写出 JSON 错误，返回状态码
func (s *Server) writeError(c *gin.Context, err error) int {
	status := ttserr.HTTPStatus(ttserr.KindOf(err))
	if errors.Is(err, context.Canceled) && ttserr.KindOf(err) == ttserr.Unknown {
		// 客户端已断开
		status = 499
	}
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("synthesis failed", zap.String("id", c.GetString(ctxRequestID)), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorBody(err.Error(), ttserr.TypeOf(err)))
	return status
}
