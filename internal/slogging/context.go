package slogging

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key holding the per-request correlation ID
const RequestIDKey = "request_id"

// ContextLogger wraps the global logger with a request correlation ID
type ContextLogger struct {
	logger    *Logger
	requestID string
}

// GetContextLogger returns a logger carrying the request's correlation ID,
// assigning one if the request does not have one yet
func GetContextLogger(c *gin.Context) SimpleLogger {
	requestID := ""
	if v, exists := c.Get(RequestIDKey); exists {
		if id, ok := v.(string); ok {
			requestID = id
		}
	}
	if requestID == "" {
		requestID = uuid.New().String()
		c.Set(RequestIDKey, requestID)
	}
	return &ContextLogger{logger: Get(), requestID: requestID}
}

func (l *ContextLogger) prefix(format string) string {
	return "[" + l.requestID + "] " + format
}

// Debug logs a debug level message with the request ID
func (l *ContextLogger) Debug(format string, args ...any) {
	l.logger.Debug(l.prefix(format), args...)
}

// Info logs an info level message with the request ID
func (l *ContextLogger) Info(format string, args ...any) {
	l.logger.Info(l.prefix(format), args...)
}

// Warn logs a warning level message with the request ID
func (l *ContextLogger) Warn(format string, args ...any) {
	l.logger.Warn(l.prefix(format), args...)
}

// Error logs an error level message with the request ID
func (l *ContextLogger) Error(format string, args ...any) {
	l.logger.Error(l.prefix(format), args...)
}
