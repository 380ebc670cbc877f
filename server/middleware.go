package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	headerRequestID  = "X-Request-ID"
	headerSampleRate = "X-Sample-Rate"
	ctxRequestID     = "request_id"
)

// requestID 沿用客户端的请求 ID，没有则生成
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("id", c.GetString(ctxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Error("request", fields...)
			return
		}
		s.log.Info("request", fields...)
	}
}

// rateLimit 全局令牌桶，rps <= 0 时不限流
func rateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("请求过于频繁，请稍后重试", "rate_limited"))
			return
		}
		c.Next()
	}
}

func (s *Server) recovery(c *gin.Context, p any) {
	err := fmt.Errorf("panic: %v", p)
	s.log.Error("panic recovered", zap.String("id", c.GetString(ctxRequestID)), zap.Any("panic", p), zap.Stack("stack"))
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("内部错误", "inference_error"))
}
