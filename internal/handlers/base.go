package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/harvi-app/study-engine/internal/utils"
)

const loggerKey = "logger"

// ErrorResponse is the error body every endpoint returns.
type ErrorResponse struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// BaseHandler carries the helpers shared by all handlers.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs the operation about to run.
func (h BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	h.requestLogger(c).Debug(msg, args...)
}

// LogError records a failure the client only sees as a 500.
func (h BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	h.requestLogger(c).Error(msg, append(args, "error", err)...)
}

// requestLogger prefers the request-scoped logger the middleware attached,
// so handler lines carry the request id.
func (h BaseHandler) requestLogger(c *gin.Context) utils.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if logger, ok := v.(utils.Logger); ok {
			return logger
		}
	}
	return h.logger
}
