package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// RequestIDKey carries the per-request id set by the gateway
	RequestIDKey contextKey = "request_id"
	// CallerIDKey carries the authenticated ledger identity
	CallerIDKey contextKey = "caller_id"
)

// Logger wraps logrus.Logger with the ledger's structured helpers
type Logger struct {
	*logrus.Logger
}

// New creates a logger writing JSON lines to stdout
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a logger writing JSON lines to w
func NewWithWriter(level string, w io.Writer) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(w)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return NewWithWriter("panic", io.Discard)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithUserID creates a new logger entry with user ID field
func (l *Logger) WithUserID(userID string) *logrus.Entry {
	return l.Logger.WithField("user_id", userID)
}

// WithContext creates a logger entry carrying the request and caller ids found in ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithFields(logrus.Fields{})
	if ctx == nil {
		return entry
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	if callerID, ok := ctx.Value(CallerIDKey).(string); ok && callerID != "" {
		entry = entry.WithField("caller_id", callerID)
	}
	return entry
}

// Audit logs a committed ledger operation
func (l *Logger) Audit(ctx context.Context, actorID, operation string, details map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"audit":     true,
		"actor":     actorID,
		"operation": operation,
		"details":   details,
	}).Info("Ledger operation committed")
}

// Security logs a rejected operation
func (l *Logger) Security(ctx context.Context, actorID, operation string, err error) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"security":  true,
		"actor":     actorID,
		"operation": operation,
	}).WithError(err).Warn("Ledger operation rejected")
}

// HTTPRequest logs HTTP request events
func (l *Logger) HTTPRequest(ctx context.Context, method, path, clientIP string, statusCode int, duration int64) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"client_ip":    clientIP,
		"status_code":  statusCode,
		"duration_ms":  duration,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}

// StoreOperation logs a failed or slow persistence call
func (l *Logger) StoreOperation(ctx context.Context, backend, operation string, duration int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"store":       backend,
		"operation":   operation,
		"duration_ms": duration,
	})
	if err != nil {
		entry.WithError(err).Error("Store operation failed")
		return
	}
	entry.Debug("Store operation completed")
}
