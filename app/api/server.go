package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/metrics"
)

type ServerOptions struct {
	APIAccessKey string
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer // nil disables /metrics
}

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, opts ServerOptions) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())
	r.Use(metricsMiddleware(opts.Metrics))
	r.Use(corsMiddleware(handler.opts.TokenHeader))

	setupRoutes(r, handler, opts)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, opts ServerOptions) {
	posts := r.Group("/")
	if handler.opts.RequireNonce {
		posts.Use(nonceMiddleware(handler.tokens, handler.opts.TokenHeader))
	}
	posts.GET("/posts", handler.GetPosts)

	r.GET("/token", handler.ProbeToken)
	r.HEAD("/token", handler.ProbeToken)
	r.GET("/style.css", handler.GetStyle)
	r.GET("/health", handler.GetHealth)

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	if opts.APIAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(opts.APIAccessKey))
		{
			api.POST("/import", handler.APIImportFeeds)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"posts":  "/posts?per_page=<1-20>",
			"token":  "/token",
			"style":  "/style.css",
			"health": "/health",
		}
		if opts.Gatherer != nil {
			endpoints["metrics"] = "/metrics"
		}
		if opts.APIAccessKey != "" {
			endpoints["import"] = "/api/import (POST, requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "KISS Blog Posts",
			"version":     handler.opts.Version,
			"description": "Recent posts endpoint for the KISS Blog Posts widget",
			"endpoints":   endpoints,
			"nonce": map[string]interface{}{
				"required": handler.opts.RequireNonce,
				"header":   handler.opts.TokenHeader,
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func corsMiddleware(tokenHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, If-None-Match, If-Modified-Since, "+tokenHeader)
		c.Header("Access-Control-Expose-Headers", "ETag, Last-Modified, "+tokenHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
