// Package ttserr 定义合成流水线的错误分类
package ttserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind int

const (
	Unknown Kind = iota
	InvalidInput
	UnknownSegment
	InputTooLong
	PoolExhausted
	InferenceError
	EncodingUnavailable
	ModelLoadError
)

var kindNames = [...]string{
	Unknown:             "unknown_error",
	InvalidInput:        "invalid_input",
	UnknownSegment:      "unknown_segment",
	InputTooLong:        "input_too_long",
	PoolExhausted:       "pool_exhausted",
	InferenceError:      "inference_error",
	EncodingUnavailable: "encoding_unavailable",
	ModelLoadError:      "model_load_error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// 哨兵错误，配合 errors.Is 使用
var (
	ErrInvalidInput        = &Error{Kind: InvalidInput}
	ErrUnknownSegment      = &Error{Kind: UnknownSegment}
	ErrInputTooLong        = &Error{Kind: InputTooLong}
	ErrPoolExhausted       = &Error{Kind: PoolExhausted}
	ErrInferenceError      = &Error{Kind: InferenceError}
	ErrEncodingUnavailable = &Error{Kind: EncodingUnavailable}
	ErrModelLoad           = &Error{Kind: ModelLoadError}
)

// Error 携带类别的流水线错误
type Error struct {
	Kind Kind
	Op   string // 出错的阶段，如 normalize, phonemize
	Msg  string
	Err  error
}

// New 创建指定类别的错误
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 使用类别包装底层错误，err 为 nil 时返回 nil
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类别即视为匹配
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 取出错误链上最外层的类别
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// HTTPStatus 类别对应的 HTTP 状态码
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput, UnknownSegment, InputTooLong:
		return http.StatusBadRequest
	case EncodingUnavailable:
		return http.StatusUnsupportedMediaType
	case PoolExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TypeOf 对外暴露的错误类型名，未知错误按推理错误处理
func TypeOf(err error) string {
	k := KindOf(err)
	if k == Unknown {
		k = InferenceError
	}
	return k.String()
}
