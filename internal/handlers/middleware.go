package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/harvi-app/study-engine/internal/utils"
)

const requestIDKey = "request_id"

// SetupMiddleware sets up the common middleware stack for the Gin router.
func SetupMiddleware(router *gin.Engine, logger utils.Logger) {
	router.Use(RequestIDMiddleware())
	router.Use(cors.New(corsConfig()))
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(SecurityMiddleware())
}

// corsConfig lets the device UI's dev server reach the loopback API from
// whatever local port it happens to run on. The server never binds beyond
// loopback, so origin restrictions buy nothing here.
func corsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders:   []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}
}

// RequestIDMiddleware tags every request with an id, honoring one supplied
// by the caller.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

// RequestLogger attaches a request-scoped logger to both the gin and the
// request context, then emits one structured line per handled request.
func RequestLogger(logger utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := logger.With(requestIDKey, c.GetString(requestIDKey))
		c.Set(loggerKey, requestLogger)
		c.Request = c.Request.WithContext(utils.ContextWithLogger(c.Request.Context(), requestLogger))

		c.Next()

		requestLogger.Info("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// SecurityMiddleware adds security headers. The server only ever binds to
// loopback, but embedded webviews still honor these.
func SecurityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
