package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/logger"
)

// Registrar mounts one group of routes.
type Registrar interface{ Register(r *gin.RouterGroup) }

// newEngine builds the gin engine with recovery and request logging.
func newEngine(log *logger.Logger, rs ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	v1 := r.Group("/api/v1")
	for _, rg := range rs {
		rg.Register(v1)
	}
	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}
