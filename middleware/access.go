package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"PChat/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recover 捕获 handler panic，返回 500
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[HTTP] panic",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal error"})
			}
		}()
		c.Next()
	}
}

// AccessLog 请求日志，直接挂 Engine.Use
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("[HTTP] request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("requestId", c.GetString("requestId")),
			zap.Duration("cost", time.Since(start)))
	}
}

const HeaderRequestID = "X-Request-Id"

// RequestID 透传或生成请求ID；不调用 c.Next，可注册到 MiddlewareManager
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(HeaderRequestID, id)
	}
}
