package log

import (
	"context"
	"log/slog"
	"net/http"
)

type ContextKey string

// LoggerContextKey carries the request-scoped logger.
const LoggerContextKey ContextKey = "logger"

// Middleware stores the logger in the request context so handlers can log
// through FromContext without holding a server reference.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), LoggerContextKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the request logger, falling back to the process default
// when called outside a request.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default()}
}

// StructuredLogger emits domain events with the standard field vocabulary
// from fields.go.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogExpenseCreated records a confirmed expense append.
func (sl *StructuredLogger) LogExpenseCreated(ctx context.Context, id, desc string, amountCents int64, category string) {
	fields := NewFields().
		WithExpense(id, desc, amountCents, category).
		WithOperation(OpCreate).
		WithComponent(ComponentExpense)

	sl.logger.InfoContext(ctx, "Expense created successfully", fields.ToSlice()...)
}

// LogOperationFailed records a failed domain operation with its component.
func (sl *StructuredLogger) LogOperationFailed(ctx context.Context, msg string, err error, component, operation, username string) {
	fields := NewFields().
		WithError(err).
		WithOperation(operation).
		WithUsername(username).
		WithComponent(component)

	sl.logger.ErrorContext(ctx, msg, fields.ToSlice()...)
}
