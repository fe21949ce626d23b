package assetos

import "log/slog"

// Logger defines the interface for runtime logging. The runtime uses
// structured logging with key-value pairs so that implementing
// applications can control how runtime logs appear.
//
// The interface uses variadic arguments in key-value pairs:
//
//	logger.Info("Module started", "module", "comms", "method", "wifi")
//
// This approach is compatible with popular structured logging libraries
// like slog and zap.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	L *slog.Logger
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.L.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.L.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.L.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.L.Debug(msg, args...) }

// NopLogger discards all log output. Useful in tests.
type NopLogger struct{}

func (NopLogger) Info(msg string, args ...any)  {}
func (NopLogger) Error(msg string, args ...any) {}
func (NopLogger) Warn(msg string, args ...any)  {}
func (NopLogger) Debug(msg string, args ...any) {}
