package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlascmd/assetos"
)

// zapLogger adapts a zap sugared logger to the runtime Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func newLogger(debug bool) (*zapLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	flush := func() { _ = logger.Sync() }
	return &zapLogger{s: logger.Sugar()}, flush, nil
}

var _ assetos.Logger = (*zapLogger)(nil)

func (l *zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l *zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
