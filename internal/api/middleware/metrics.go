package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/observability"
)

// Metrics 记录请求耗时，路由取注册时的模板避免标签膨胀
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Seconds())
	}
}
