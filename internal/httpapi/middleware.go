package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logx "promptclock/pkg/logx"
)

func recoverer(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http handler panic",
					logx.String("path", c.Request.URL.Path),
					logx.Any("panic", r),
					logx.Stack(),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// observe records per-route latency. Unmatched routes share one label.
func observe(obs HTTPObserver, log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		if obs != nil {
			obs.ObserveHTTP(c.Request.Method, route, code, took)
		}
		if route != "/healthz" && route != "/metrics" {
			log.Debug("http request",
				logx.String("method", c.Request.Method),
				logx.String("route", route),
				logx.Int("code", code),
				logx.Duration("took", took),
			)
		}
	}
}
