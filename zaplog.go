package ecs

import "go.uber.org/zap"

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the engine's Logger. A nil logger
// yields a no-op Logger.
func NewZapLogger(log *zap.Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return zapLogger{sugar: log.Sugar()}
}

func (l zapLogger) With(key string, value any) Logger {
	return zapLogger{sugar: l.sugar.With(key, value)}
}

func (l zapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l zapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}
