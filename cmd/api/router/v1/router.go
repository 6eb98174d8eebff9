package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	chathttp "go-leadchat/internal/pkg/chat/presentation/http"
)

// HealthFunc reports whether a backing service is reachable.
type HealthFunc func(ctx context.Context) error

// RegisterRoutes mounts the version 1 API under /api/v1 plus the operational
// endpoints at the root.
func RegisterRoutes(r *gin.Engine, deps chathttp.Deps, health map[string]HealthFunc) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	r.GET("/healthz", healthHandler(health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	chathttp.RegisterRoutes(v1, deps)
}

func healthHandler(checks map[string]HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, out := http.StatusOK, gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		c.JSON(status, out)
	}
}

// AccessLog logs one line per request. Websocket upgrades are logged when the
// socket closes.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
