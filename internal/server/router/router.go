package router

import (
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/metrics"
	"github.com/alcaldia/chatrelay/internal/server/handlers"
	"github.com/alcaldia/chatrelay/web"
)

const requestIDHeader = "X-Request-ID"

// New wires the Gin engine with required routes and middlewares. When m is
// nil the /metrics route is not mounted.
func New(handler *handlers.ChatHandler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(securityMiddleware(secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "same-origin",
		ContentSecurityPolicy: "default-src 'self'",
	})))
	r.Use(zapLoggerMiddleware(logger, m))

	r.SetHTMLTemplate(template.Must(template.ParseFS(web.FS, "templates/*.html")))
	static, err := fs.Sub(web.FS, "static")
	if err != nil {
		logger.Fatal("embedded static assets missing", zap.Error(err))
	}
	r.StaticFS("/static", http.FS(static))

	r.GET("/", handler.Index)
	r.GET("/health", handler.Health)
	r.GET("/health/upstream", handler.UpstreamHealth)
	r.POST("/send", handler.Send)
	r.POST("/mensaje", handler.Mensaje)

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	logger.Info("router initialized")

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set(handlers.RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func securityMiddleware(s *secure.Secure) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		// Process may have issued a redirect.
		if status := c.Writer.Status(); status > 300 && status < 399 {
			c.Abort()
		}
	}
}

func zapLoggerMiddleware(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), elapsed)

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(handlers.RequestIDKey)))
	}
}
