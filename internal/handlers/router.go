// Package handlers exposes the image API and the workflow endpoints over gin.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Options configures the router builder. Nil handlers leave their routes
// unregistered.
type Options struct {
	Images      *ImageHandler
	Process     *ProcessHandler
	Metrics     http.Handler
	CORSOrigins []string
	Logger      zerolog.Logger
	// Extra fields for the /health body, e.g. {"mode": "standalone"}.
	HealthInfo map[string]string
}

// NewRouter builds a gin engine with recovery, request logging and CORS.
func NewRouter(opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(corsConfig(opts.CORSOrigins)))

	engine.GET("/health", healthHandler(opts.HealthInfo))
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	if h := opts.Images; h != nil {
		api := engine.Group("/api")
		api.POST("/images/upload", h.Upload)
		api.GET("/images", h.List)
		api.GET("/images/:id", h.Get)
		api.GET("/images/:id/thumbnails/:size", h.Thumbnail)
		api.GET("/stats", h.Stats)
	}

	if h := opts.Process; h != nil {
		v1 := engine.Group("/v1")
		v1.POST("/process", h.Process)
		v1.GET("/runs/:id", h.Status)
	}

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func loggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		ev := logger.Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		} else if status >= http.StatusBadRequest {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

func healthHandler(info map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "healthy"}
		for k, v := range info {
			body[k] = v
		}
		c.JSON(http.StatusOK, body)
	}
}
