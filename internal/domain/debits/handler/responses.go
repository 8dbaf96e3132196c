package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status  string   `json:"status"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func success(c *gin.Context, code int, data any, message string) {
	c.JSON(code, APIResponse{Status: "success", Data: data, Message: message})
}

func failure(c *gin.Context, logger *slog.Logger, code int, message string, errs ...string) {
	c.AbortWithStatusJSON(code, APIResponse{Status: "error", Message: message, Errors: errs})

	level := slog.LevelWarn
	if code >= 500 {
		level = slog.LevelError
	}
	logger.Log(c.Request.Context(), level, "api error",
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", code),
		slog.String("message", message),
		slog.Any("errors", errs),
	)
}

// failureWithData is used when the error carries structured detail, such as
// the batch a duplicate upload collided with.
func failureWithData(c *gin.Context, logger *slog.Logger, code int, message string, data any) {
	c.AbortWithStatusJSON(code, APIResponse{Status: "error", Message: message, Data: data})
	logger.Warn("api error",
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", code),
		slog.String("message", message),
	)
}
